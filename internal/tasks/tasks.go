// Package tasks ships the built-in job types the daemon registers at
// startup: channel content import/export, channel deletion, and job log
// export. They move bytes on the local filesystem; the interesting part is
// the contract with the queue — chunked progress reporting, cooperative
// cancellation, and rollback of partial artifacts when a cancel lands
// mid-copy.
package tasks

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"workq/internal/queue"
	logx "workq/pkg/logx"
)

// Job type names, stable across restarts (persisted in job records).
const (
	TypeChannelImport = "channel.import"
	TypeChannelExport = "channel.export"
	TypeChannelDelete = "channel.delete"
	TypeLogExport     = "logs.export"
)

// RegisterBuiltins wires the built-in runners into the queue's registry.
// contentDir is where imported channel databases live.
func RegisterBuiltins(q *queue.Queue, contentDir string, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := q.Registry()

	pairs := []struct {
		name string
		fn   queue.Runner
	}{
		{TypeChannelImport, importChannel(contentDir)},
		{TypeChannelExport, exportChannel(contentDir)},
		{TypeChannelDelete, deleteChannel(contentDir)},
		{TypeLogExport, exportJobLog(q)},
	}
	for _, pr := range pairs {
		if err := reg.Register(pr.name, pr.fn); err != nil {
			return err
		}
	}
	log.Debug("built-in job types registered", logx.Int("count", len(pairs)))
	return nil
}

// importChannel copies a channel database from args["source"] into the
// content directory as <channel_id>.sqlite3.
func importChannel(contentDir string) queue.Runner {
	return func(ctx context.Context, p *queue.Progress, args map[string]any) error {
		channelID, err := stringArg(args, "channel_id")
		if err != nil {
			return err
		}
		source, err := stringArg(args, "source")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(contentDir, 0o755); err != nil {
			return err
		}
		dst := channelDBPath(contentDir, channelID)
		return copyChunked(ctx, p, source, dst)
	}
}

// exportChannel copies a previously imported channel database out to
// args["dest"] (a directory).
func exportChannel(contentDir string) queue.Runner {
	return func(ctx context.Context, p *queue.Progress, args map[string]any) error {
		channelID, err := stringArg(args, "channel_id")
		if err != nil {
			return err
		}
		dest, err := stringArg(args, "dest")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		src := channelDBPath(contentDir, channelID)
		dst := channelDBPath(dest, channelID)
		return copyChunked(ctx, p, src, dst)
	}
}

// deleteChannel removes the channel database from the content directory.
func deleteChannel(contentDir string) queue.Runner {
	return func(ctx context.Context, p *queue.Progress, args map[string]any) error {
		channelID, err := stringArg(args, "channel_id")
		if err != nil {
			return err
		}
		if err := p.CheckCancel(); err != nil {
			return err
		}
		path := channelDBPath(contentDir, channelID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		p.Update(1, 1)
		return nil
	}
}

// exportJobLog writes a CSV of all known job records to args["output_file"].
func exportJobLog(q *queue.Queue) queue.Runner {
	return func(ctx context.Context, p *queue.Progress, args map[string]any) error {
		out, err := stringArg(args, "output_file")
		if err != nil {
			return err
		}
		jobs, err := q.Jobs(ctx)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err := w.Write([]string{"id", "type", "state", "progress", "enqueued_at", "finished_at", "exception"}); err != nil {
			return err
		}
		total := float64(len(jobs))
		for i, j := range jobs {
			if err := p.CheckCancel(); err != nil {
				_ = f.Close()
				_ = os.Remove(out)
				return err
			}
			rec := []string{
				j.ID, j.Type, string(j.State),
				strconv.FormatFloat(j.Progress, 'f', -1, 64),
				j.EnqueuedAt.String(), j.FinishedAt.String(), j.Exception,
			}
			if err := w.Write(rec); err != nil {
				return err
			}
			p.Update(float64(i+1), total)
		}
		w.Flush()
		return w.Error()
	}
}

func channelDBPath(dir, channelID string) string {
	return filepath.Join(dir, channelID+".sqlite3")
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required arg %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("arg %q must be a non-empty string", key)
	}
	return s, nil
}
