package neynar

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// User is the author block attached to casts.
type User struct {
	FID      int64  `json:"fid"`
	Username string `json:"username"`
}

// EmbedMetadata carries the content type Neynar resolved for an embed URL.
type EmbedMetadata struct {
	ContentType string `json:"content_type"`
}

type Embed struct {
	URL      string         `json:"url,omitempty"`
	Metadata *EmbedMetadata `json:"metadata,omitempty"`
}

// Cast is a Farcaster cast as returned by the v2 API.
type Cast struct {
	Hash          string    `json:"hash"`
	ParentHash    *string   `json:"parent_hash"`
	ThreadHash    *string   `json:"thread_hash"`
	Author        User      `json:"author"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	Embeds        []Embed   `json:"embeds"`
	DirectReplies []Cast    `json:"direct_replies,omitempty"`
}

// Notification is one entry of the notifications feed.
type Notification struct {
	Object              string    `json:"object"`
	Type                string    `json:"type"`
	MostRecentTimestamp time.Time `json:"most_recent_timestamp"`
	Cast                *Cast     `json:"cast,omitempty"`
}

type notificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

type conversationResponse struct {
	Conversation struct {
		Cast Cast `json:"cast"`
	} `json:"conversation"`
}

type publishRequest struct {
	SignerUUID string `json:"signer_uuid"`
	Text       string `json:"text"`
	Parent     string `json:"parent,omitempty"`
	Idem       string `json:"idem,omitempty"`
}

type publishResponse struct {
	Success bool `json:"success"`
	Cast    struct {
		Hash string `json:"hash"`
	} `json:"cast"`
}

// APIError represents an error response from the Neynar API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("neynar: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("neynar: HTTP %d: %s", e.StatusCode, e.Message)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (c Cast) toEmbeds() []types.Embed {
	var out []types.Embed
	for _, e := range c.Embeds {
		if e.URL == "" {
			continue
		}
		embed := types.Embed{URL: e.URL}
		if e.Metadata != nil {
			embed.MediaType = e.Metadata.ContentType
		}
		out = append(out, embed)
	}
	return out
}

func (c Cast) toCast() types.Cast {
	return types.Cast{
		Hash:         c.Hash,
		ParentHash:   deref(c.ParentHash),
		ThreadHash:   deref(c.ThreadHash),
		AuthorID:     strconv.FormatInt(c.Author.FID, 10),
		AuthorHandle: c.Author.Username,
		Text:         c.Text,
		Embeds:       c.toEmbeds(),
		Timestamp:    c.Timestamp,
	}
}

// toEvent maps a notification to an engine event. The reply attaches to the
// notifying cast itself; its thread hash is the root anchor.
func (n Notification) toEvent() (types.NotificationEvent, bool) {
	if n.Cast == nil || n.Cast.Hash == "" {
		return types.NotificationEvent{}, false
	}
	c := n.Cast
	root := deref(c.ThreadHash)
	if root == c.Hash {
		root = ""
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = n.MostRecentTimestamp
	}
	return types.NotificationEvent{
		ID:             n.Type + ":" + c.Hash,
		Type:           n.Type,
		ThreadAnchorID: c.Hash,
		OriginCastID:   c.Hash,
		RootAnchorID:   root,
		AuthorID:       strconv.FormatInt(c.Author.FID, 10),
		AuthorHandle:   c.Author.Username,
		Text:           c.Text,
		Embeds:         c.toEmbeds(),
		Timestamp:      ts,
	}, true
}
