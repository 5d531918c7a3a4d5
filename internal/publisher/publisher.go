// Package publisher posts generated replies.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCooldown is returned when a publish is refused because the previous one
// was too recent. Nothing was sent.
var ErrCooldown = errors.New("publisher: cooldown active")

// Backend posts a cast under parent.
type Backend interface {
	PublishCast(ctx context.Context, text, parent, idem string) (string, error)
}

// Publisher makes exactly one backend call per Publish. Retrying is left to
// the caller.
type Publisher struct {
	backend  Backend
	cooldown time.Duration

	mu          sync.Mutex
	lastPublish time.Time
	now         func() time.Time
}

// New creates a Publisher. A zero cooldown disables the local rate limit.
func New(backend Backend, cooldown time.Duration) *Publisher {
	return &Publisher{
		backend:  backend,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Publish posts text as a reply to anchor and returns the new cast id.
func (p *Publisher) Publish(ctx context.Context, text, anchor string) (string, error) {
	if p.cooldown > 0 {
		p.mu.Lock()
		since := p.now().Sub(p.lastPublish)
		p.mu.Unlock()
		if since < p.cooldown {
			return "", fmt.Errorf("%w: next publish allowed in %s", ErrCooldown, (p.cooldown - since).Truncate(time.Second))
		}
	}

	castID, err := p.backend.PublishCast(ctx, text, anchor, IdempotencyKey(anchor))
	if err != nil {
		return "", fmt.Errorf("failed to publish reply to %s: %w", anchor, err)
	}

	p.mu.Lock()
	p.lastPublish = p.now()
	p.mu.Unlock()
	return castID, nil
}

// IdempotencyKey derives a stable 16-character key for replies under anchor,
// so the API can collapse duplicate publishes from racing processes.
func IdempotencyKey(anchor string) string {
	sum := sha256.Sum256([]byte("reply:" + anchor))
	return hex.EncodeToString(sum[:])[:16]
}
