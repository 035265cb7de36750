package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"workq/internal/config"
	"workq/internal/eventbus"
	"workq/internal/janitor"
	"workq/internal/queue"
	"workq/internal/storage"
	"workq/internal/tasks"
	logx "workq/pkg/logx"
	"workq/pkg/sdnotify"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	storeCfg, err := storageConfig(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	qCfg, err := queueConfig(cfg)
	if err != nil {
		return err
	}
	bus := eventbus.New()
	q := queue.New(qCfg, store, queue.NewRegistry(), log.With(logx.String("comp", "queue")), bus)

	contentDir := strings.TrimSpace(cfg.Tasks.ContentDir)
	if contentDir == "" {
		contentDir = "./content"
	}
	if err := tasks.RegisterBuiltins(q, contentDir, log); err != nil {
		return fmt.Errorf("register job types: %w", err)
	}

	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}

	jCfg, err := janitorConfig(cfg)
	if err != nil {
		return err
	}
	jan := janitor.New(jCfg, q, log.With(logx.String("comp", "janitor")))
	if err := jan.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}

	// Hot reload: logging and retention settings follow the config file.
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := queueConfig(c); err != nil {
			return err
		}
		_, err := janitorConfig(c)
		return err
	})
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		for c := range sub {
			logSvc.Apply(logx.Config{
				Level:   c.Logging.Level,
				Console: c.Logging.Console,
				File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
			})
			if jc, err := janitorConfig(c); err == nil {
				if err := jan.Apply(ctx, jc); err != nil {
					log.Warn("retention reconfigure failed", logx.Err(err))
				}
			}
		}
	}()

	go sdnotify.WatchdogLoop(ctx)
	sdnotify.Ready()
	log.Info("workqd ready")

	<-ctx.Done()
	sdnotify.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	jan.Stop(stopCtx)
	q.Stop(stopCtx)
	return nil
}

func storageConfig(c *config.Config) (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func queueConfig(c *config.Config) (queue.Config, error) {
	poll, err := config.ParseDurationOrDefault("queue.poll_interval", c.Queue.PollInterval, 500*time.Millisecond)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{Workers: c.Queue.Workers, PollInterval: poll}, nil
}

func janitorConfig(c *config.Config) (janitor.Config, error) {
	if c.Retention == nil {
		return janitor.Config{}, nil
	}
	maxAge, err := config.ParseDurationOrDefault("retention.max_age", c.Retention.MaxAge, 24*time.Hour)
	if err != nil {
		return janitor.Config{}, err
	}
	return janitor.Config{
		Enabled:  c.Retention.Enabled,
		Schedule: c.Retention.Schedule,
		MaxAge:   maxAge,
	}, nil
}
