package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

func TestImageMimeType(t *testing.T) {
	assert.Equal(t, "image/png", imageMimeType("https://x.test/a/b.PNG?w=10"))
	assert.Equal(t, "image/jpeg", imageMimeType("https://imagedelivery.net/abc/original"))
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, req Request) (string, error) {
		return "echo " + req.User, nil
	})
	out, err := c.Complete(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", out)
}

func TestAnthropicProvider_SendsHistoryAndImage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "nice cat"}],
			"stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude-test", 100, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	out, err := p.Complete(context.Background(), Request{
		System:   "be nice",
		User:     "look at this",
		ImageURL: "https://example.com/cat.png",
		History: []types.Turn{
			{Role: types.RoleUser, Text: "earlier"},
			{Role: types.RoleAssistant, Text: "earlier reply"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "nice cat", out)

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 3)
	last := messages[2].(map[string]any)
	content := last["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[1].(map[string]any)["type"])
	assert.EqualValues(t, 100, body["max_tokens"])
}

func TestAnthropicProvider_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "msg_1", "type": "message", "role": "assistant", "content": [], "usage": {}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude-test", 0, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := p.Complete(context.Background(), Request{User: "hi"})
	assert.Error(t, err)
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", "gemini-2.5-flash", 0)
	assert.Error(t, err)
}
