package generator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/mentionbot/internal/generator/providers"
	"github.com/ibeckermayer/mentionbot/internal/types"
)

type fakeCompleter struct {
	reply string
	err   error
	calls []providers.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req providers.Request) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func chain(vision, primary, secondary *fakeCompleter) []Backend {
	return []Backend{
		{Name: "vision", Kind: types.BackendVision, Capability: CapabilityVision, Completer: vision},
		{Name: "primary", Kind: types.BackendPrimaryText, Capability: CapabilityText, Completer: primary},
		{Name: "secondary", Kind: types.BackendSecondaryText, Capability: CapabilityText, Completer: secondary},
	}
}

func imageEvent() types.NotificationEvent {
	return types.NotificationEvent{
		ID:             "mention:0xAA",
		ThreadAnchorID: "0xAA",
		Text:           "what is this?",
		Embeds:         []types.Embed{{URL: "https://example.com/cat.png"}},
	}
}

func TestGenerate_TextOnlySkipsVision(t *testing.T) {
	vision := &fakeCompleter{reply: "vision"}
	primary := &fakeCompleter{reply: "primary"}
	secondary := &fakeCompleter{reply: "secondary"}
	g := New(chain(vision, primary, secondary), Options{})

	got := g.Generate(context.Background(), types.NotificationEvent{ID: "e1", ThreadAnchorID: "0x1", Text: "hi"})
	assert.Equal(t, "primary", got.Text)
	assert.Equal(t, types.BackendPrimaryText, got.Backend)
	assert.Equal(t, "e1", got.SourceEventID)
	assert.Empty(t, vision.calls)
	assert.Empty(t, secondary.calls)
}

func TestGenerate_ImageUsesVision(t *testing.T) {
	vision := &fakeCompleter{reply: "a cat"}
	primary := &fakeCompleter{reply: "primary"}
	g := New(chain(vision, primary, &fakeCompleter{}), Options{})

	got := g.Generate(context.Background(), imageEvent())
	assert.Equal(t, "a cat", got.Text)
	assert.Equal(t, types.BackendVision, got.Backend)
	require.Len(t, vision.calls, 1)
	assert.Equal(t, "https://example.com/cat.png", vision.calls[0].ImageURL)
	assert.Empty(t, primary.calls)
}

func TestGenerate_VisionFailureFallsToPrimaryNotSecondary(t *testing.T) {
	vision := &fakeCompleter{err: errors.New("boom")}
	primary := &fakeCompleter{reply: "primary"}
	secondary := &fakeCompleter{reply: "secondary"}
	g := New(chain(vision, primary, secondary), Options{})

	got := g.Generate(context.Background(), imageEvent())
	assert.Equal(t, types.BackendPrimaryText, got.Backend)
	require.Len(t, primary.calls, 1)
	assert.Empty(t, primary.calls[0].ImageURL)
	assert.Empty(t, secondary.calls)
}

func TestGenerate_VisionAndPrimaryFail(t *testing.T) {
	vision := &fakeCompleter{err: errors.New("boom")}
	primary := &fakeCompleter{reply: "   "}
	secondary := &fakeCompleter{reply: "secondary"}
	g := New(chain(vision, primary, secondary), Options{})

	got := g.Generate(context.Background(), imageEvent())
	assert.Equal(t, "secondary", got.Text)
	assert.Equal(t, types.BackendSecondaryText, got.Backend)
}

func TestGenerate_AllFailUsesFallback(t *testing.T) {
	fail := func() *fakeCompleter { return &fakeCompleter{err: errors.New("down")} }
	g := New(chain(fail(), fail(), fail()), Options{FallbackReply: "be right back"})

	got := g.Generate(context.Background(), imageEvent())
	assert.Equal(t, "be right back", got.Text)
	assert.Equal(t, types.BackendFallback, got.Backend)
	assert.Equal(t, "mention:0xAA", got.SourceEventID)
}

func TestGenerate_NoBackends(t *testing.T) {
	g := New(nil, Options{})
	got := g.Generate(context.Background(), types.NotificationEvent{ID: "e"})
	assert.Equal(t, types.BackendFallback, got.Backend)
	assert.NotEmpty(t, got.Text)
}

func TestGenerate_TruncatesAndCleans(t *testing.T) {
	primary := &fakeCompleter{reply: `"` + strings.Repeat("é", 200) + `"`}
	g := New(chain(&fakeCompleter{}, primary, &fakeCompleter{}), Options{MaxReplyLength: 11})

	got := g.Generate(context.Background(), types.NotificationEvent{ID: "e", Text: "hi"})
	assert.LessOrEqual(t, len(got.Text), 11)
	assert.Equal(t, strings.Repeat("é", 5), got.Text)
}

func TestGenerate_HistoryOnlyForPrimary(t *testing.T) {
	primary := &fakeCompleter{err: errors.New("down")}
	secondary := &fakeCompleter{reply: "ok"}
	w := NewWindow(4, 10)
	w.Append("0xROOT", "earlier", "earlier reply")
	g := New(chain(&fakeCompleter{}, primary, secondary), Options{Window: w})

	ev := types.NotificationEvent{ID: "e", ThreadAnchorID: "0x2", RootAnchorID: "0xROOT", Text: "again"}
	g.Generate(context.Background(), ev)

	require.Len(t, primary.calls, 1)
	assert.Len(t, primary.calls[0].History, 2)
	require.Len(t, secondary.calls, 1)
	assert.Empty(t, secondary.calls[0].History)
}

func TestRemember_OnlyPublishedRepliesEnterWindow(t *testing.T) {
	w := NewWindow(10, 10)
	g := New(chain(&fakeCompleter{}, &fakeCompleter{reply: "gm"}, &fakeCompleter{}), Options{Window: w})
	ev := types.NotificationEvent{ID: "e", ThreadAnchorID: "0x2", RootAnchorID: "0xROOT", Text: "hi"}

	reply := g.Generate(context.Background(), ev)
	assert.Empty(t, w.History("0xROOT"), "generation alone does not add history")

	g.Remember(ev, reply)
	h := w.History("0xROOT")
	require.Len(t, h, 2)
	assert.Equal(t, "hi", h[0].Text)
	assert.Equal(t, "gm", h[1].Text)

	g.Remember(ev, types.GeneratedReply{Text: "fallback", Backend: types.BackendFallback})
	assert.Len(t, w.History("0xROOT"), 2)
}

func TestNew_OrdersChainByRole(t *testing.T) {
	vision := &fakeCompleter{reply: "a cat"}
	secondary := &fakeCompleter{reply: "text"}
	primary := &fakeCompleter{reply: "text"}
	g := New([]Backend{
		{Name: "secondary", Kind: types.BackendSecondaryText, Capability: CapabilityText, Completer: secondary},
		{Name: "primary", Kind: types.BackendPrimaryText, Capability: CapabilityText, Completer: primary},
		{Name: "vision", Kind: types.BackendVision, Capability: CapabilityVision, Completer: vision},
	}, Options{})

	var names []string
	for _, b := range g.Backends() {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"vision", "primary", "secondary"}, names)

	got := g.Generate(context.Background(), imageEvent())
	assert.Equal(t, types.BackendVision, got.Backend)
	assert.Len(t, vision.calls, 1)
	assert.Empty(t, secondary.calls)
	assert.Empty(t, primary.calls)
}

func TestGenerate_CallTimeout(t *testing.T) {
	slow := providers.CompleterFunc(func(ctx context.Context, _ providers.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	g := New([]Backend{
		{Name: "slow", Kind: types.BackendPrimaryText, Capability: CapabilityText, Completer: slow},
	}, Options{CallTimeout: 10 * time.Millisecond, FallbackReply: "fallback"})

	got := g.Generate(context.Background(), types.NotificationEvent{ID: "e"})
	assert.Equal(t, types.BackendFallback, got.Backend)
}

func TestDetectImage(t *testing.T) {
	tests := []struct {
		name string
		ev   types.NotificationEvent
		want string
		ok   bool
	}{
		{"no embeds", types.NotificationEvent{Text: "hello"}, "", false},
		{"media type", types.NotificationEvent{Embeds: []types.Embed{{URL: "https://cdn.test/x", MediaType: "image/webp"}}}, "https://cdn.test/x", true},
		{"extension", types.NotificationEvent{Embeds: []types.Embed{{URL: "https://site.test/page"}, {URL: "https://site.test/a.JPG"}}}, "https://site.test/a.JPG", true},
		{"image host", types.NotificationEvent{Embeds: []types.Embed{{URL: "https://imagedelivery.net/abc/original"}}}, "https://imagedelivery.net/abc/original", true},
		{"discord attachment", types.NotificationEvent{Embeds: []types.Embed{{URL: "https://cdn.discordapp.com/attachments/1/2/shot"}}}, "https://cdn.discordapp.com/attachments/1/2/shot", true},
		{"discord non attachment", types.NotificationEvent{Embeds: []types.Embed{{URL: "https://cdn.discordapp.com/emojis/1"}}}, "", false},
		{"url in text", types.NotificationEvent{Text: "see https://x.test/pic.gif please"}, "https://x.test/pic.gif", true},
		{"non image link", types.NotificationEvent{Text: "read https://x.test/post"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectImage(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindow(t *testing.T) {
	var nilWindow *Window
	assert.Nil(t, nilWindow.History("x"))
	nilWindow.Append("x", "a", "b")

	w := NewWindow(3, 1)
	w.Append("r1", "u1", "a1")
	w.Append("r1", "u2", "a2")
	h := w.History("r1")
	require.Len(t, h, 2)
	assert.Equal(t, types.RoleUser, h[0].Role)
	assert.Equal(t, "u2", h[0].Text)

	w.Append("r2", "u", "a")
	assert.Nil(t, w.History("r1"))
	assert.Equal(t, 1, w.Len())
}

func TestCleanReply(t *testing.T) {
	assert.Equal(t, "gm", cleanReply("  \"gm\" "))
	assert.Equal(t, "gm friend", cleanReply("```text\ngm friend\n```"))
	assert.Equal(t, "gm", cleanReply("```gm```"))
	assert.Equal(t, "it's fine", cleanReply("it's fine"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("é", 1))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestGenerate_SavesTranscript(t *testing.T) {
	dir := t.TempDir()
	transcript, err := NewDirTranscript(dir)
	require.NoError(t, err)

	primary := &fakeCompleter{err: errors.New("down")}
	secondary := &fakeCompleter{reply: "ok"}
	g := New(chain(&fakeCompleter{}, primary, secondary), Options{
		SystemPrompt: "sys",
		Transcript:   transcript,
		Now:          func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
	g.Generate(context.Background(), types.NotificationEvent{ID: "e", Text: "hi"})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	var ex Exchange
	require.NoError(t, json.Unmarshal(data, &ex))
	assert.Equal(t, "primary", ex.Backend)
	assert.Equal(t, "down", ex.Error)
	assert.Equal(t, "sys", ex.System)
}
