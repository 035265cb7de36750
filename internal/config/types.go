package config

// Config is the full daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Queue     QueueConfig      `json:"queue"`
	Retention *RetentionConfig `json:"retention,omitempty"`
	Tasks     TasksConfig      `json:"tasks,omitempty"`
}

// TasksConfig points the built-in job types at their working directories.
type TasksConfig struct {
	// ContentDir is where imported channel databases are kept.
	// Default: "./content".
	ContentDir string `json:"content_dir,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls job persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./workq.db" }
//
// If the whole section is omitted, jobs live in memory only.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// QueueConfig controls the worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - poll_interval: "500ms"
//
// Workers is not hot-reloadable; restart to resize the pool.
type QueueConfig struct {
	Workers      int    `json:"workers,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// RetentionConfig controls the automatic sweep of finished job records.
//
// Schedule is either a cron expression ("0 3 * * *") or an "@every" spec
// ("@every 1h"). MaxAge keeps recently finished records visible to pollers.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default: "@every 1h"
	MaxAge   string `json:"max_age,omitempty"`  // default: "24h"
}
