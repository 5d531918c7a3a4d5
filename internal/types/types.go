package types

import "time"

// NotificationEvent is one inbound mention or reply observed during a poll.
type NotificationEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"` // "mention", "reply"
	ThreadAnchorID string    `json:"thread_anchor_id"`
	OriginCastID   string    `json:"origin_cast_id"`
	RootAnchorID   string    `json:"root_anchor_id,omitempty"`
	AuthorID       string    `json:"author_id"`
	AuthorHandle   string    `json:"author_handle"`
	Text           string    `json:"text"`
	Embeds         []Embed   `json:"embeds,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Root returns the root anchor, falling back to the thread anchor.
func (e NotificationEvent) Root() string {
	if e.RootAnchorID != "" {
		return e.RootAnchorID
	}
	return e.ThreadAnchorID
}

// Embed is an opaque URL attached to a cast
type Embed struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type,omitempty"`
}

// Cast is an entry of a live thread
type Cast struct {
	Hash         string    `json:"hash"`
	ParentHash   string    `json:"parent_hash,omitempty"`
	ThreadHash   string    `json:"thread_hash,omitempty"`
	AuthorID     string    `json:"author_id"`
	AuthorHandle string    `json:"author_handle"`
	Text         string    `json:"text"`
	Embeds       []Embed   `json:"embeds,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Thread holds the replies below a thread anchor.
type Thread struct {
	DirectReplies []Cast
	NestedReplies []Cast
}

// Replies returns direct and nested replies unioned by hash.
func (t Thread) Replies() []Cast {
	seen := make(map[string]bool, len(t.DirectReplies)+len(t.NestedReplies))
	out := make([]Cast, 0, len(t.DirectReplies)+len(t.NestedReplies))
	for _, group := range [][]Cast{t.DirectReplies, t.NestedReplies} {
		for _, c := range group {
			if c.Hash != "" && seen[c.Hash] {
				continue
			}
			seen[c.Hash] = true
			out = append(out, c)
		}
	}
	return out
}

// BackendKind identifies which content generation backend produced a reply.
type BackendKind string

const (
	BackendVision        BackendKind = "vision"
	BackendPrimaryText   BackendKind = "primary_text"
	BackendSecondaryText BackendKind = "secondary_text"
	BackendFallback      BackendKind = "fallback"
)

// GeneratedReply is the output of one generation attempt. It lives for a
// single cycle only.
type GeneratedReply struct {
	Text          string      `json:"text"`
	Backend       BackendKind `json:"backend"`
	SourceEventID string      `json:"source_event_id"`
}

// Turn is one entry in a conversational window
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
