// Command mentionbot watches a Farcaster account's notifications and replies
// to new mentions. It runs the poll loop, the cron schedule and the HTTP
// trigger in one process, all sharing one dedup store.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/mentionbot/internal/app"
	"github.com/ibeckermayer/mentionbot/internal/config"
	"github.com/ibeckermayer/mentionbot/internal/engine"
	"github.com/ibeckermayer/mentionbot/internal/logging"
	"github.com/ibeckermayer/mentionbot/internal/scheduler"
	"github.com/ibeckermayer/mentionbot/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	configPath := os.Getenv("MENTIONBOT_CONFIG")
	ensureConfig(configPath)

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, configPath, logger); err != nil {
		logger.Fatal("mentionbot stopped", zap.Error(err))
	}
	logger.Info("mentionbot stopped")
}

// ensureConfig writes a default config on first run so the operator has a
// file to edit.
func ensureConfig(path string) {
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return
	}
	if err := config.Default().SaveTo(path); err != nil {
		log.Printf("Warning: could not save default config: %v", err)
		return
	}
	log.Printf("Created default config at: %s", path)
}

func run(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, app.Options{ConfigPath: configPath, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Polling.Timezone, cfg.CallTimeout()*5, logger)
	if err != nil {
		return err
	}
	if err := scheduleCheck(sched, a); err != nil {
		return err
	}

	logger.Info("mentionbot starting",
		zap.String("fid", cfg.Account.FID),
		zap.String("dedup_backend", cfg.Dedup.Backend),
		zap.Bool("server", cfg.Server.Enabled))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.RunLoop(gctx)
	})

	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	if cfg.Server.Enabled {
		srv := server.New(a, server.Options{
			Addr:         cfg.Server.Addr,
			TriggerToken: cfg.Server.TriggerToken,
			CheckTimeout: cfg.CallTimeout() * 5,
			Jobs:         sched,
			Logger:       logger,
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := a.ReloadConfig(gctx); err != nil {
					logger.Error("failed to reload config", zap.Error(err))
					continue
				}
				if err := scheduleCheck(sched, a); err != nil {
					logger.Error("failed to reschedule check", zap.Error(err))
				}
			}
		}
	})

	return g.Wait()
}

// scheduleCheck installs the cron trigger from the active config, replacing
// any previous schedule. An empty schedule removes it.
func scheduleCheck(sched *scheduler.Scheduler, a *app.App) error {
	schedule := a.Config().Polling.Schedule
	if schedule == "" {
		sched.RemoveJob(scheduler.CheckJob)
		return nil
	}
	return sched.AddCheckJob(schedule, func(ctx context.Context) error {
		_, err := a.Check(ctx, engine.TriggerSchedule)
		return err
	})
}
