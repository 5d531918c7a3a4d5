// Package dedup persists the set of threads the engine has already handled.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetention is how long a handled record is kept.
const DefaultRetention = 7 * 24 * time.Hour

// Record marks one tracking key as handled.
type Record struct {
	Key         string `json:"key"`
	HandledAtMs int64  `json:"handled_at_ms"`
}

// Backend persists records. Appending a key that already exists must not
// change what LoadRecords reports for it.
type Backend interface {
	LoadRecords(ctx context.Context) ([]Record, error)
	Append(ctx context.Context, r Record) error
	// Prune removes records handled before cutoffMs and returns how many went.
	Prune(ctx context.Context, cutoffMs int64) (int, error)
	Close() error
}

// Finder is implemented by backends that can look records up by key, so a
// Store sees what other processes sharing the backend wrote after Load.
type Finder interface {
	FindRecords(ctx context.Context, keys []string) ([]Record, error)
}

// Options configures a Store.
type Options struct {
	Retention time.Duration
	Logger    *zap.Logger
	Now       func() time.Time
}

// Store is the in-memory view of handled keys backed by durable storage.
// One Store is built per process and shared by every trigger surface.
type Store struct {
	mu        sync.RWMutex
	records   map[string]int64
	backend   Backend
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Open creates a Store and loads it from the backend.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		records:   make(map[string]int64),
		backend:   backend,
		retention: opts.Retention,
		logger:    opts.Logger.Named("dedup"),
		now:       opts.Now,
	}
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory view with the persisted records, dropping and
// purging any older than the retention horizon, and returns the live keys.
func (s *Store) Load(ctx context.Context) (map[string]struct{}, error) {
	records, err := s.backend.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup records: %w", err)
	}

	cutoff := s.now().Add(-s.retention).UnixMilli()
	live := make(map[string]int64, len(records))
	expired := 0
	for _, r := range records {
		if r.HandledAtMs < cutoff {
			expired++
			continue
		}
		if prev, ok := live[r.Key]; ok && prev <= r.HandledAtMs {
			continue
		}
		live[r.Key] = r.HandledAtMs
	}

	if expired > 0 {
		removed, err := s.backend.Prune(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("failed to prune dedup records: %w", err)
		}
		s.logger.Info("pruned expired records",
			zap.Int("expired", expired),
			zap.Int("removed", removed),
			zap.Duration("retention", s.retention))
	}

	s.mu.Lock()
	s.records = live
	s.mu.Unlock()

	keys := make(map[string]struct{}, len(live))
	for k := range live {
		keys[k] = struct{}{}
	}
	s.logger.Debug("loaded dedup records", zap.Int("count", len(keys)))
	return keys, nil
}

// Has reports whether key has been handled.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok
}

// HasAny reports whether any of keys has been handled.
func (s *Store) HasAny(keys ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if _, ok := s.records[k]; ok {
			return true
		}
	}
	return false
}

// Refresh reports whether any of keys has been handled, asking the backend
// when it is a Finder and the keys are not known locally. Records found
// there join the in-memory view.
func (s *Store) Refresh(ctx context.Context, keys ...string) (bool, error) {
	if s.HasAny(keys...) {
		return true, nil
	}
	finder, ok := s.backend.(Finder)
	if !ok {
		return false, nil
	}
	records, err := finder.FindRecords(ctx, keys)
	if err != nil {
		return false, fmt.Errorf("failed to look up dedup records: %w", err)
	}

	cutoff := s.now().Add(-s.retention).UnixMilli()
	found := false
	s.mu.Lock()
	for _, r := range records {
		if r.HandledAtMs < cutoff {
			continue
		}
		if _, ok := s.records[r.Key]; !ok {
			s.records[r.Key] = r.HandledAtMs
		}
		found = true
	}
	s.mu.Unlock()
	return found, nil
}

// MarkHandled records key as handled at now and persists it before
// returning. On a persistence error the in-memory view still keeps the
// write for the rest of the process lifetime.
func (s *Store) MarkHandled(ctx context.Context, key string, now time.Time) error {
	s.mu.Lock()
	if _, ok := s.records[key]; ok {
		s.mu.Unlock()
		return nil
	}
	rec := Record{Key: key, HandledAtMs: now.UnixMilli()}
	s.records[key] = rec.HandledAtMs
	s.mu.Unlock()

	if err := s.backend.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

// MarkAll marks every key handled with the same timestamp. Every key is
// attempted; the persistence errors are joined.
func (s *Store) MarkAll(ctx context.Context, keys []string, now time.Time) error {
	var errs []error
	for _, k := range keys {
		if err := s.MarkHandled(ctx, k, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Records returns a snapshot sorted by handling time, newest first.
func (s *Store) Records() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for k, ts := range s.records {
		out = append(out, Record{Key: k, HandledAtMs: ts})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].HandledAtMs == out[j].HandledAtMs {
			return out[i].Key < out[j].Key
		}
		return out[i].HandledAtMs > out[j].HandledAtMs
	})
	return out
}

// Len returns the number of handled keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Backend exposes the underlying persistence, e.g. to share its Locker.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
