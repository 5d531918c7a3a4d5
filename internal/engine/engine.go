// Package engine runs the check cycle: fetch notifications, filter what is
// already handled, verify against the live thread, generate, publish and
// record. Each cycle publishes at most one reply.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibeckermayer/mentionbot/internal/dedup"
	"github.com/ibeckermayer/mentionbot/internal/publisher"
	"github.com/ibeckermayer/mentionbot/internal/types"
)

// Source lists recent notifications for an account.
type Source interface {
	ListNotifications(ctx context.Context, fid string, kinds []string) ([]types.NotificationEvent, error)
}

// Verifier checks the live thread for an existing reply.
type Verifier interface {
	AlreadyReplied(ctx context.Context, anchor, identityID string) (bool, error)
}

// Generator produces reply text. It does not fail.
type Generator interface {
	Generate(ctx context.Context, ev types.NotificationEvent) types.GeneratedReply
}

// Publisher posts a reply under anchor.
type Publisher interface {
	Publish(ctx context.Context, text, anchor string) (string, error)
}

// Store is the handled-thread set.
type Store interface {
	HasAny(keys ...string) bool
	// Refresh also consults durable storage shared with other processes.
	Refresh(ctx context.Context, keys ...string) (bool, error)
	MarkAll(ctx context.Context, keys []string, now time.Time) error
}

// historyKeeper is implemented by generators that remember published
// replies as conversation history.
type historyKeeper interface {
	Remember(ev types.NotificationEvent, reply types.GeneratedReply)
}

// Notifier is told about every published reply.
type Notifier interface {
	NotifyReply(ctx context.Context, ev types.NotificationEvent, reply types.GeneratedReply, castID string) error
}

// Options configures an Engine.
type Options struct {
	Identity          string   // account FID; its own casts are never answered
	NotificationTypes []string // e.g. "mentions", "replies"
	CallTimeout       time.Duration
	LeaseTTL          time.Duration
	Locker            dedup.Locker // nil disables leases
	Policy            SkipPolicy   // nil means Conservative
	Notifier          Notifier     // may be nil
	Metrics           *Metrics     // may be nil
	Logger            *zap.Logger
	Owner             string // lease owner prefix; defaults to a random ID
	Now               func() time.Time
}

// Engine executes check cycles. It is safe to run cycles concurrently.
type Engine struct {
	source    Source
	verifier  Verifier
	generator Generator
	publisher Publisher
	store     Store
	opts      Options
	logger    *zap.Logger
}

// New creates an engine.
func New(source Source, verifier Verifier, generator Generator, pub Publisher, store Store, opts Options) *Engine {
	if opts.Policy == nil {
		opts.Policy = Conservative{}
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 3 * time.Minute
	}
	if len(opts.NotificationTypes) == 0 {
		opts.NotificationTypes = []string{"mentions", "replies"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:    source,
		verifier:  verifier,
		generator: generator,
		publisher: pub,
		store:     store,
		opts:      opts,
		logger:    logger.Named("engine"),
	}
}

// outcome is the result of processing one candidate.
type outcome string

const (
	outcomeSelfAuthored   outcome = "self_authored"
	outcomeFiltered       outcome = "filtered"
	outcomeLeaseBusy      outcome = "lease_busy"
	outcomeAlreadyReplied outcome = "already_replied"
	outcomeVerifyError    outcome = "verify_error"
	outcomePublished      outcome = "published"
	outcomePublishError   outcome = "publish_error"
	outcomeDeferred       outcome = "deferred"
)

// cycle carries per-run state.
type cycle struct {
	report *CycleReport
	logger *zap.Logger
	state  State
	owner  string // lease owner, unique per cycle
}

func (c *cycle) transition(s State, fields ...zap.Field) {
	c.logger.Debug("state transition",
		append([]zap.Field{zap.String("from", string(c.state)), zap.String("to", string(s))}, fields...)...)
	c.state = s
}

// RunCycle runs one check cycle. The only error returned is a fetch
// failure, in which case nothing was recorded.
func (e *Engine) RunCycle(ctx context.Context, trigger Trigger) (*CycleReport, error) {
	report := &CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: e.opts.Now(),
	}
	c := &cycle{
		report: report,
		logger: e.logger.With(zap.String("cycle_id", report.ID), zap.String("trigger", string(trigger))),
		state:  StateIdle,
		owner:  e.opts.Owner + "/" + report.ID,
	}
	defer c.transition(StateIdle)

	c.transition(StateFetching)
	events, err := e.fetch(ctx)
	if err != nil {
		report.FinishedAt = e.opts.Now()
		report.Error = err.Error()
		e.opts.Metrics.observeCycle(trigger, "fetch_error", report.Duration())
		c.logger.Error("cycle aborted", zap.Error(err))
		return report, err
	}
	report.Fetched = len(events)

	for _, ev := range events {
		if ctx.Err() != nil {
			c.logger.Info("cycle cancelled", zap.Error(ctx.Err()))
			break
		}
		out, stop := e.processCandidate(ctx, c, ev)
		e.opts.Metrics.incCandidate(string(out))
		if stop {
			break
		}
	}

	report.FinishedAt = e.opts.Now()
	result := "ok"
	if ctx.Err() != nil {
		result = "cancelled"
	}
	e.opts.Metrics.observeCycle(trigger, result, report.Duration())
	fields := []zap.Field{
		zap.Int("fetched", report.Fetched),
		zap.Int("filtered", report.Filtered),
		zap.Int("deferred", report.Deferred+report.LeaseBusy),
		zap.Duration("duration", report.Duration()),
	}
	if report.Published != nil {
		fields = append(fields, zap.String("cast_id", report.Published.CastID))
	}
	c.logger.Info("cycle complete", fields...)
	return report, nil
}

func (e *Engine) fetch(ctx context.Context) ([]types.NotificationEvent, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	events, err := e.source.ListNotifications(ctx, e.opts.Identity, e.opts.NotificationTypes)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}
	return events, nil
}

// processCandidate walks one event through the per-candidate states. stop is
// true when the cycle must not consider further candidates.
func (e *Engine) processCandidate(ctx context.Context, c *cycle, ev types.NotificationEvent) (out outcome, stop bool) {
	keys := dedup.TrackingKeys(ev)
	logger := c.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("anchor", ev.ThreadAnchorID),
		zap.String("root", ev.Root()))

	c.transition(StateFiltering, zap.String("event_id", ev.ID))
	if e.opts.Identity != "" && ev.AuthorID == e.opts.Identity {
		c.report.SelfAuthored++
		return outcomeSelfAuthored, false
	}
	if e.store.HasAny(keys.All()...) {
		c.report.Filtered++
		return outcomeFiltered, false
	}

	if e.opts.Locker != nil {
		ok, err := e.opts.Locker.TryLock(ctx, keys.Root, c.owner, e.opts.LeaseTTL)
		if err != nil {
			logger.Warn("failed to acquire lease, deferring", zap.Error(err))
			c.report.Deferred++
			return outcomeDeferred, false
		}
		if !ok {
			logger.Info("thread leased by another cycle, deferring")
			c.report.LeaseBusy++
			return outcomeLeaseBusy, false
		}
		defer e.unlock(ctx, keys.Root, c.owner, logger)

		// Another cycle, possibly in another process, may have finished
		// this thread before the lease was free.
		handled, err := e.store.Refresh(ctx, keys.All()...)
		if err != nil {
			logger.Warn("failed to refresh dedup records, deferring",
				zap.Error(&StageError{Stage: StagePersist, Err: err}))
			c.report.Deferred++
			return outcomeDeferred, false
		}
		if handled {
			c.report.Filtered++
			return outcomeFiltered, false
		}
	}

	c.transition(StateVerifying)
	replied, err := e.verify(ctx, ev)
	if ctx.Err() != nil {
		return e.interrupted(c, logger, StageVerify)
	}
	if err != nil {
		c.report.VerifyErrors++
		logger.Warn("verification failed", zap.Error(err))
		e.fail(ctx, c, keys, StageVerify)
		return outcomeVerifyError, false
	}
	if replied {
		c.report.AlreadyReplied++
		logger.Info("thread already has our reply")
		e.record(ctx, c, keys)
		return outcomeAlreadyReplied, false
	}

	c.transition(StateGenerating)
	reply := e.generator.Generate(ctx, ev)
	if ctx.Err() != nil {
		return e.interrupted(c, logger, StageGenerate)
	}
	e.opts.Metrics.incGeneration(string(reply.Backend))

	c.transition(StatePublishing)
	castID, err := e.publish(ctx, reply.Text, ev.ThreadAnchorID)
	if err != nil && ctx.Err() != nil {
		return e.interrupted(c, logger, StagePublish)
	}
	if errors.Is(err, publisher.ErrCooldown) {
		logger.Info("publish cooldown active, deferring remaining candidates")
		e.opts.Metrics.incPublish("cooldown")
		c.report.Deferred++
		return outcomeDeferred, true
	}
	if err != nil {
		c.report.PublishErrors++
		e.opts.Metrics.incPublish("error")
		logger.Error("publish failed", zap.Error(err))
		e.fail(ctx, c, keys, StagePublish)
		return outcomePublishError, false
	}
	e.opts.Metrics.incPublish("success")

	e.record(ctx, c, keys)
	if h, ok := e.generator.(historyKeeper); ok {
		h.Remember(ev, reply)
	}
	c.report.Published = &PublishedReply{
		CastID:  castID,
		Anchor:  ev.ThreadAnchorID,
		EventID: ev.ID,
		Backend: reply.Backend,
		Text:    reply.Text,
	}
	logger.Info("reply published",
		zap.String("cast_id", castID),
		zap.String("backend", string(reply.Backend)))

	if e.opts.Notifier != nil {
		if err := e.opts.Notifier.NotifyReply(ctx, ev, reply, castID); err != nil {
			logger.Warn("failed to send reply notification", zap.Error(err))
		}
	}
	return outcomePublished, true
}

// interrupted leaves a candidate unmarked when the cycle itself was
// cancelled mid-flight, so shutdown never consumes a thread. A per-call
// timeout does not reach here since it leaves ctx live.
func (e *Engine) interrupted(c *cycle, logger *zap.Logger, stage Stage) (outcome, bool) {
	logger.Info("cycle cancelled, leaving thread unmarked", zap.String("stage", string(stage)))
	c.report.Deferred++
	return outcomeDeferred, true
}

func (e *Engine) verify(ctx context.Context, ev types.NotificationEvent) (bool, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	replied, err := e.verifier.AlreadyReplied(ctx, ev.ThreadAnchorID, e.opts.Identity)
	if err != nil {
		return false, &StageError{Stage: StageVerify, Err: err}
	}
	return replied, nil
}

func (e *Engine) publish(ctx context.Context, text, anchor string) (string, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	castID, err := e.publisher.Publish(ctx, text, anchor)
	if err != nil && !errors.Is(err, publisher.ErrCooldown) {
		return "", &StageError{Stage: StagePublish, Err: err}
	}
	return castID, err
}

// fail applies the skip policy to a candidate that failed at stage.
func (e *Engine) fail(ctx context.Context, c *cycle, keys dedup.Keys, stage Stage) {
	if e.opts.Policy.ShouldMark(keys.Root, stage) {
		e.record(ctx, c, keys)
		return
	}
	c.logger.Info("leaving thread for retry",
		zap.String("root", keys.Root),
		zap.String("policy", e.opts.Policy.Name()))
}

// record marks every tracking key handled. It runs even if ctx was
// cancelled after a publish, since losing the record risks a duplicate.
func (e *Engine) record(ctx context.Context, c *cycle, keys dedup.Keys) {
	c.transition(StateRecording)
	if err := e.store.MarkAll(context.WithoutCancel(ctx), keys.All(), e.opts.Now()); err != nil {
		c.logger.Error("failed to persist handled thread",
			zap.String("root", keys.Root),
			zap.Error(&StageError{Stage: StagePersist, Err: err}))
	}
}

func (e *Engine) unlock(ctx context.Context, key, owner string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.opts.Locker.Unlock(ctx, key, owner); err != nil {
		logger.Warn("failed to release lease", zap.Error(err))
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}
