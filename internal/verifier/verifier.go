// Package verifier checks live thread state to decide whether the monitored
// account has already replied. It is the only check shared across processes.
package verifier

import (
	"context"
	"fmt"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// ThreadFetcher loads the live replies below a cast.
type ThreadFetcher interface {
	GetThread(ctx context.Context, anchor string) (types.Thread, error)
}

// Verifier answers "has identity already replied under anchor".
type Verifier struct {
	fetcher ThreadFetcher
}

func New(fetcher ThreadFetcher) *Verifier {
	return &Verifier{fetcher: fetcher}
}

// AlreadyReplied fetches the thread and looks for a reply authored by
// identityID among direct and nested replies. A fetch failure is returned as
// an error, never as false.
func (v *Verifier) AlreadyReplied(ctx context.Context, anchor, identityID string) (bool, error) {
	thread, err := v.fetcher.GetThread(ctx, anchor)
	if err != nil {
		return false, fmt.Errorf("failed to fetch thread %s: %w", anchor, err)
	}
	for _, reply := range thread.Replies() {
		if reply.AuthorID == identityID {
			return true, nil
		}
	}
	return false, nil
}
