// Package neynar is a small client for the Neynar Farcaster v2 REST API,
// covering the notification feed, thread lookups and publishing casts.
package neynar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

const (
	DefaultBaseURL = "https://api.neynar.com"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	SignerUUID string
	ReplyDepth int
	Limit      int
	Timeout    time.Duration
}

// Client talks to the Neynar API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Neynar client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ReplyDepth <= 0 {
		cfg.ReplyDepth = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// ListNotifications returns the recent notifications for fid as events, in
// delivery order. Notifications without a cast are skipped.
func (c *Client) ListNotifications(ctx context.Context, fid string, kinds []string) ([]types.NotificationEvent, error) {
	q := url.Values{}
	q.Set("fid", fid)
	if len(kinds) > 0 {
		q.Set("type", strings.Join(kinds, ","))
	}
	if c.cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.cfg.Limit))
	}

	var resp notificationsResponse
	if err := c.do(ctx, http.MethodGet, "/v2/farcaster/notifications", q, nil, &resp); err != nil {
		return nil, err
	}

	events := make([]types.NotificationEvent, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		if ev, ok := n.toEvent(); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// GetThread returns the replies below anchor: direct replies, plus every
// deeper reply flattened into NestedReplies.
func (c *Client) GetThread(ctx context.Context, anchor string) (types.Thread, error) {
	q := url.Values{}
	q.Set("identifier", anchor)
	q.Set("type", "hash")
	q.Set("reply_depth", strconv.Itoa(c.cfg.ReplyDepth))
	q.Set("include_chronological_parent_casts", "false")

	var resp conversationResponse
	if err := c.do(ctx, http.MethodGet, "/v2/farcaster/cast/conversation", q, nil, &resp); err != nil {
		return types.Thread{}, err
	}

	var thread types.Thread
	for _, reply := range resp.Conversation.Cast.DirectReplies {
		thread.DirectReplies = append(thread.DirectReplies, reply.toCast())
		flatten(reply.DirectReplies, &thread.NestedReplies)
	}
	return thread, nil
}

func flatten(casts []Cast, out *[]types.Cast) {
	for _, c := range casts {
		*out = append(*out, c.toCast())
		flatten(c.DirectReplies, out)
	}
}

// PublishCast posts text as a reply to parent and returns the new cast hash.
// idem is forwarded as Neynar's idempotency key when non-empty.
func (c *Client) PublishCast(ctx context.Context, text, parent, idem string) (string, error) {
	req := publishRequest{
		SignerUUID: c.cfg.SignerUUID,
		Text:       text,
		Parent:     parent,
		Idem:       idem,
	}

	var resp publishResponse
	if err := c.do(ctx, http.MethodPost, "/v2/farcaster/cast", nil, req, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.Cast.Hash == "" {
		return "", fmt.Errorf("neynar: publish returned no cast")
	}
	return resp.Cast.Hash, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call neynar %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse neynar response: %w", err)
	}
	return nil
}
