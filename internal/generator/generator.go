// Package generator turns a mention into reply text using an ordered chain
// of LLM backends, ending in a constant fallback reply.
package generator

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/mentionbot/internal/generator/providers"
	"github.com/ibeckermayer/mentionbot/internal/types"
)

// Capability says what input a backend accepts.
type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilityVision Capability = "vision"
)

// Backend is one entry in the generation chain.
type Backend struct {
	Name       string
	Kind       types.BackendKind
	Capability Capability
	Completer  providers.Completer
}

// Options configures a Generator.
type Options struct {
	SystemPrompt   string
	FallbackReply  string
	MaxReplyLength int
	CallTimeout    time.Duration
	Window         *Window    // may be nil
	Transcript     Transcript // may be nil
	Logger         *zap.Logger
	Now            func() time.Time
}

// Generator produces reply text. It never fails: when every backend errors
// or returns nothing, the fallback reply is used.
type Generator struct {
	backends []Backend
	opts     Options
	logger   *zap.Logger
}

// chainRank orders the chain: vision, then primary text, then secondary
// text. Backends of the same kind keep their relative order.
var chainRank = map[types.BackendKind]int{
	types.BackendVision:        0,
	types.BackendPrimaryText:   1,
	types.BackendSecondaryText: 2,
}

// New returns a Generator trying vision backends first, then primary and
// secondary text backends.
func New(backends []Backend, opts Options) *Generator {
	backends = slices.Clone(backends)
	slices.SortStableFunc(backends, func(a, b Backend) int {
		return chainRank[a.Kind] - chainRank[b.Kind]
	})
	if opts.MaxReplyLength <= 0 {
		opts.MaxReplyLength = DefaultMaxReplyLength
	}
	if opts.FallbackReply == "" {
		opts.FallbackReply = "Thanks for the mention!"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		backends: backends,
		opts:     opts,
		logger:   logger.Named("generator"),
	}
}

// Backends returns the chain in the order it is tried.
func (g *Generator) Backends() []Backend {
	return g.backends
}

// Generate returns a reply for ev. Vision backends are consulted only when
// the event carries an image; conversation history is sent only to the
// primary text backend.
func (g *Generator) Generate(ctx context.Context, ev types.NotificationEvent) types.GeneratedReply {
	imageURL, hasImage := DetectImage(ev)
	user := buildUserContent(ev)
	root := ev.Root()

	for _, b := range g.backends {
		if ctx.Err() != nil {
			break
		}
		req := providers.Request{System: g.opts.SystemPrompt, User: user}
		switch {
		case b.Capability == CapabilityVision:
			if !hasImage {
				continue
			}
			req.ImageURL = imageURL
		case b.Kind == types.BackendPrimaryText:
			req.History = g.opts.Window.History(root)
		}

		text, err := g.call(ctx, b, req)
		g.record(ev, b, req, text, err)
		if err != nil {
			g.logger.Warn("backend failed",
				zap.String("backend", b.Name),
				zap.String("event_id", ev.ID),
				zap.Error(err))
			continue
		}
		text = Truncate(cleanReply(text), g.opts.MaxReplyLength)
		if text == "" {
			g.logger.Warn("backend returned empty reply",
				zap.String("backend", b.Name),
				zap.String("event_id", ev.ID))
			continue
		}
		return types.GeneratedReply{Text: text, Backend: b.Kind, SourceEventID: ev.ID}
	}

	g.logger.Info("using fallback reply", zap.String("event_id", ev.ID))
	return types.GeneratedReply{
		Text:          Truncate(g.opts.FallbackReply, g.opts.MaxReplyLength),
		Backend:       types.BackendFallback,
		SourceEventID: ev.ID,
	}
}

// Remember adds a published reply to the conversation window for its root.
// Fallback replies are left out.
func (g *Generator) Remember(ev types.NotificationEvent, reply types.GeneratedReply) {
	if reply.Backend == types.BackendFallback {
		return
	}
	g.opts.Window.Append(ev.Root(), ev.Text, reply.Text)
}

func (g *Generator) record(ev types.NotificationEvent, b Backend, req providers.Request, text string, err error) {
	if g.opts.Transcript == nil {
		return
	}
	ex := Exchange{
		Timestamp: g.opts.Now(),
		EventID:   ev.ID,
		Backend:   b.Name,
		Kind:      b.Kind,
		System:    req.System,
		User:      req.User,
		ImageURL:  req.ImageURL,
		History:   req.History,
		Response:  text,
	}
	if err != nil {
		ex.Error = err.Error()
	}
	if _, serr := g.opts.Transcript.Save(ex); serr != nil {
		g.logger.Warn("failed to save exchange", zap.Error(serr))
	}
}

func (g *Generator) call(ctx context.Context, b Backend, req providers.Request) (string, error) {
	if g.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
	}
	return b.Completer.Complete(ctx, req)
}
