package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"workq/internal/job"
	logx "workq/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore persists every record mutation synchronously, so a status read
// through a fresh process sees exactly what the last Update wrote.
//
// mu serializes read-modify-write cycles in Update; the connection pool is
// capped at one anyway because SQLite prefers a single writer.
type sqliteStore struct {
	mu  sync.Mutex
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `seq, id, type, state, cancellable, track_progress, progress,
	detail, exception, traceback, args, extra_metadata, enqueued_at, started_at, finished_at`

func (s *sqliteStore) Insert(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, args, extra, err := encodeBlobs(j)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, type, state, cancellable, track_progress, progress,
		 detail, exception, traceback, args, extra_metadata, enqueued_at, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Type, string(j.State), boolInt(j.Cancellable), boolInt(j.TrackProgress), j.Progress,
		detail, j.Exception, j.Traceback, args, extra,
		j.EnqueuedAt.UTC().Format(time.RFC3339Nano), nullTime(j.StartedAt), nullTime(j.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return job.ErrDuplicate
		}
		return err
	}
	if seq, err := res.LastInsertId(); err == nil {
		j.Seq = seq
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *sqliteStore) getLocked(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *sqliteStore) Update(ctx context.Context, id string, mutate func(*job.Job) error) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(j); err != nil {
		return nil, err
	}

	detail, args, extra, err := encodeBlobs(j)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET type=?, state=?, cancellable=?, track_progress=?, progress=?,
		 detail=?, exception=?, traceback=?, args=?, extra_metadata=?, started_at=?, finished_at=?
		 WHERE id=?`,
		j.Type, string(j.State), boolInt(j.Cancellable), boolInt(j.TrackProgress), j.Progress,
		detail, j.Exception, j.Traceback, args, extra,
		nullTime(j.StartedAt), nullTime(j.FinishedAt), id,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Removed between the read and the write; report the benign race.
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) NextScheduled(ctx context.Context) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY seq LIMIT 1`,
		string(job.Scheduled),
	)
	j, err := scanJob(row)
	if errors.Is(err, job.ErrNotFound) {
		return nil, nil
	}
	return j, err
}

// ---- row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		state       string
		cancellable int64
		track       int64
		detail      string
		args        string
		extra       string
		enqueued    string
		started     sql.NullString
		finished    sql.NullString
	)
	err := r.Scan(&j.Seq, &j.ID, &j.Type, &state, &cancellable, &track, &j.Progress,
		&detail, &j.Exception, &j.Traceback, &args, &extra, &enqueued, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	j.State = job.State(state)
	j.Cancellable = cancellable != 0
	j.TrackProgress = track != 0

	if err := json.Unmarshal([]byte(detail), &j.Detail); err != nil {
		return nil, fmt.Errorf("decode detail for job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(args), &j.Args); err != nil {
		return nil, fmt.Errorf("decode args for job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(extra), &j.ExtraMetadata); err != nil {
		return nil, fmt.Errorf("decode extra_metadata for job %s: %w", j.ID, err)
	}

	if j.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueued); err != nil {
		return nil, fmt.Errorf("decode enqueued_at for job %s: %w", j.ID, err)
	}
	if started.Valid && started.String != "" {
		if j.StartedAt, err = time.Parse(time.RFC3339Nano, started.String); err != nil {
			return nil, fmt.Errorf("decode started_at for job %s: %w", j.ID, err)
		}
	}
	if finished.Valid && finished.String != "" {
		if j.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return nil, fmt.Errorf("decode finished_at for job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func encodeBlobs(j *job.Job) (detail, args, extra string, err error) {
	d := j.Detail
	if d == nil {
		d = []job.ProgressEntry{}
	}
	db, err := json.Marshal(d)
	if err != nil {
		return "", "", "", err
	}
	a := j.Args
	if a == nil {
		a = map[string]any{}
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return "", "", "", err
	}
	e := j.ExtraMetadata
	if e == nil {
		e = map[string]any{}
	}
	eb, err := json.Marshal(e)
	if err != nil {
		return "", "", "", err
	}
	return string(db), string(ab), string(eb), nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
