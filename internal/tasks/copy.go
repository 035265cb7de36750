package tasks

import (
	"context"
	"errors"
	"io"
	"os"

	"workq/internal/queue"
)

const copyChunkSize = 64 * 1024

// copyChunked copies src to dst one chunk at a time, reporting byte progress
// and checking for cancellation between chunks. When a cancel (or ctx
// cancellation) lands mid-copy the partial destination file is removed
// before the signal propagates — callables own the rollback of their own
// artifacts.
func copyChunked(ctx context.Context, p *queue.Progress, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	total := float64(st.Size())

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	buf := make([]byte, copyChunkSize)
	var done float64
	for {
		if cerr := p.CheckCancel(); cerr != nil {
			return cerr
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			done += float64(n)
			if total > 0 {
				p.Update(done, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			if total == 0 {
				p.Update(1, 1)
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
