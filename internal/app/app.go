// Package app wires configuration into a running mention reply engine.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ibeckermayer/mentionbot/internal/config"
	"github.com/ibeckermayer/mentionbot/internal/dedup"
	"github.com/ibeckermayer/mentionbot/internal/engine"
	"github.com/ibeckermayer/mentionbot/internal/logging"
	"github.com/ibeckermayer/mentionbot/internal/neynar"
	"github.com/ibeckermayer/mentionbot/internal/notifier"
	"github.com/ibeckermayer/mentionbot/internal/publisher"
	"github.com/ibeckermayer/mentionbot/internal/verifier"
)

// Options configures an App.
type Options struct {
	ConfigPath string                // used by ReloadConfig; empty means the default path
	Registerer prometheus.Registerer // nil uses the default registry
	Logger     *zap.Logger
}

// App holds the application state.
type App struct {
	mu sync.RWMutex

	// Immutable after creation. The store is shared by every trigger.
	store      *dedup.Store
	locker     dedup.Locker
	metrics    *engine.Metrics
	configPath string
	logger     *zap.Logger

	// Mutable fields - use getSnapshot() for concurrent access.
	config *config.Config
	engine *engine.Engine
	policy engine.SkipPolicy
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config *config.Config
	engine *engine.Engine
	policy engine.SkipPolicy
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{
		config: a.config,
		engine: a.engine,
		policy: a.policy,
	}
}

// New opens the dedup store and builds the engine from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		store:      store,
		locker:     dedup.LockerFor(store.Backend()),
		metrics:    engine.MustNewMetrics(reg),
		configPath: opts.ConfigPath,
		logger:     logger,
		config:     cfg,
		policy:     SkipPolicy(cfg.Dedup),
	}

	eng, err := a.buildEngine(ctx, cfg, a.policy)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// OpenStore opens the configured dedup backend and loads it.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dedup.Store, error) {
	var backend dedup.Backend
	switch cfg.Dedup.Backend {
	case config.DedupPostgres:
		b, err := dedup.NewPostgresBackend(ctx, cfg.Dedup.DatabaseURL)
		if err != nil {
			return nil, err
		}
		backend = b
	case config.DedupFile, config.DedupSQLite:
		path, err := cfg.DedupPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dedup path: %w", err)
		}
		if cfg.Dedup.Backend == config.DedupFile {
			b, err := dedup.NewFileBackend(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open dedup file: %w", err)
			}
			backend = b
		} else {
			b, err := dedup.NewSQLiteBackend(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open dedup database: %w", err)
			}
			backend = b
		}
	default:
		return nil, fmt.Errorf("unknown dedup backend: %s", cfg.Dedup.Backend)
	}

	store, err := dedup.Open(ctx, backend, dedup.Options{
		Retention: cfg.Retention(),
		Logger:    logger,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load dedup store: %w", err)
	}
	return store, nil
}

func (a *App) buildEngine(ctx context.Context, cfg *config.Config, policy engine.SkipPolicy) (*engine.Engine, error) {
	client := neynar.NewClient(neynar.Config{
		APIKey:     cfg.Neynar.APIKey,
		BaseURL:    cfg.Neynar.BaseURL,
		SignerUUID: cfg.Account.SignerUUID,
		ReplyDepth: cfg.Neynar.ReplyDepth,
		Limit:      cfg.Neynar.Limit,
		Timeout:    cfg.CallTimeout(),
	})

	gen, err := NewGenerator(ctx, cfg, a.logger)
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		Identity:          cfg.Account.FID,
		NotificationTypes: cfg.Neynar.NotificationTypes,
		CallTimeout:       cfg.CallTimeout(),
		LeaseTTL:          cfg.LeaseTTL(),
		Locker:            a.locker,
		Policy:            policy,
		Metrics:           a.metrics,
		Logger:            a.logger,
	}

	n, err := notifier.NewFromConfig(cfg.Email)
	if err != nil {
		return nil, err
	}
	if n != nil {
		opts.Notifier = n
	}

	return engine.New(
		client,
		verifier.New(client),
		gen,
		publisher.New(client, cfg.MinPublishInterval()),
		a.store,
		opts,
	), nil
}

// SkipPolicy maps the configured policy name to an engine policy.
func SkipPolicy(cfg config.DedupConfig) engine.SkipPolicy {
	if cfg.SkipPolicy == config.SkipBoundedRetry {
		return engine.NewBoundedRetry(cfg.MaxAttempts)
	}
	return engine.Conservative{}
}

// Check runs one check cycle.
func (a *App) Check(ctx context.Context, trigger engine.Trigger) (*engine.CycleReport, error) {
	s := a.getSnapshot()
	return s.engine.RunCycle(ctx, trigger)
}

// RunLoop runs a cycle immediately and then waits one poll interval after
// each cycle until ctx is cancelled. The interval is re-read after every
// cycle, so a reload takes effect from the next wait. A zero interval
// disables the loop; a loop disabled at startup needs a restart to begin.
func (a *App) RunLoop(ctx context.Context) error {
	interval := a.getSnapshot().config.PollInterval()
	if interval <= 0 {
		a.logger.Info("poll loop disabled")
		return nil
	}
	a.logger.Info("starting poll loop", zap.Duration("interval", interval))

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if _, err := a.Check(ctx, engine.TriggerLoop); err != nil {
			a.logger.Warn("check cycle failed", zap.Error(err))
		}

		next := a.getSnapshot().config.PollInterval()
		if next <= 0 {
			a.logger.Info("poll loop disabled by reload")
			return nil
		}
		if next != interval {
			a.logger.Info("poll interval changed", zap.Duration("interval", next))
			interval = next
		}
		timer.Reset(interval)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	return a.getSnapshot().config
}

// Store returns the shared dedup store.
func (a *App) Store() *dedup.Store {
	return a.store
}

// ReloadConfig reloads the configuration from disk and rebuilds the engine.
// The dedup store and its leases are kept, and so is the skip policy with
// its failure counts unless its settings changed.
func (a *App) ReloadConfig(ctx context.Context) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	prev := a.getSnapshot()
	policy := prev.policy
	if cfg.Dedup.SkipPolicy != prev.config.Dedup.SkipPolicy || cfg.Dedup.MaxAttempts != prev.config.Dedup.MaxAttempts {
		policy = SkipPolicy(cfg.Dedup)
	}
	eng, err := a.buildEngine(ctx, cfg, policy)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.config = cfg
	a.engine = eng
	a.policy = policy
	a.mu.Unlock()

	a.logger.Info("configuration reloaded")
	return nil
}

// Close releases the dedup store.
func (a *App) Close() error {
	return a.store.Close()
}

// LoadConfig reads path (or the default location), applies environment
// overrides and validates the result.
func LoadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFrom(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// OpenConfigFile opens the config file in the system's default handler.
func OpenConfigFile() error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	return browser.OpenFile(path)
}

// OpenDataDir opens the data directory holding the dedup store.
func OpenDataDir() error {
	dir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return browser.OpenFile(dir)
}
