package engine

import "sync"

// SkipPolicy decides whether a candidate that failed verification or
// publishing is marked handled (never retried) or left for a later cycle.
type SkipPolicy interface {
	Name() string
	// ShouldMark is called once per failure for the candidate's root key.
	ShouldMark(root string, stage Stage) bool
}

// Conservative marks every failed candidate handled. A thread that cannot be
// verified or published to is not retried within the retention horizon.
type Conservative struct{}

func (Conservative) Name() string { return "conservative" }

func (Conservative) ShouldMark(string, Stage) bool { return true }

// BoundedRetry leaves a failed candidate unmarked until it has failed
// MaxAttempts times in this process.
type BoundedRetry struct {
	MaxAttempts int

	mu       sync.Mutex
	attempts map[string]int
}

// NewBoundedRetry returns a BoundedRetry policy. maxAttempts below one
// behaves like Conservative.
func NewBoundedRetry(maxAttempts int) *BoundedRetry {
	return &BoundedRetry{MaxAttempts: maxAttempts, attempts: make(map[string]int)}
}

func (b *BoundedRetry) Name() string { return "bounded_retry" }

func (b *BoundedRetry) ShouldMark(root string, _ Stage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attempts == nil {
		b.attempts = make(map[string]int)
	}
	b.attempts[root]++
	if b.attempts[root] >= b.MaxAttempts {
		delete(b.attempts, root)
		return true
	}
	return false
}

// Attempts returns the failures recorded so far for root.
func (b *BoundedRetry) Attempts(root string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[root]
}
