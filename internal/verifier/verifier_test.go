package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

type stubFetcher struct {
	thread types.Thread
	err    error
	calls  []string
}

func (s *stubFetcher) GetThread(_ context.Context, anchor string) (types.Thread, error) {
	s.calls = append(s.calls, anchor)
	return s.thread, s.err
}

func TestAlreadyReplied(t *testing.T) {
	tests := []struct {
		name   string
		thread types.Thread
		want   bool
	}{
		{
			name: "no replies",
			want: false,
		},
		{
			name: "direct reply by identity",
			thread: types.Thread{DirectReplies: []types.Cast{
				{Hash: "0x1", AuthorID: "99"},
				{Hash: "0x2", AuthorID: "42"},
			}},
			want: true,
		},
		{
			name: "nested reply by identity",
			thread: types.Thread{
				DirectReplies: []types.Cast{{Hash: "0x1", AuthorID: "99"}},
				NestedReplies: []types.Cast{{Hash: "0x3", AuthorID: "42"}},
			},
			want: true,
		},
		{
			name: "only other authors",
			thread: types.Thread{
				DirectReplies: []types.Cast{{Hash: "0x1", AuthorID: "99"}},
				NestedReplies: []types.Cast{{Hash: "0x1", AuthorID: "99"}, {Hash: "0x4", AuthorID: "7"}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &stubFetcher{thread: tt.thread}
			got, err := New(fetcher).AlreadyReplied(context.Background(), "0xBB", "42")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"0xBB"}, fetcher.calls)
		})
	}
}

func TestAlreadyReplied_ErrorIsNotFalse(t *testing.T) {
	boom := errors.New("503")
	_, err := New(&stubFetcher{err: boom}).AlreadyReplied(context.Background(), "0xBB", "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
