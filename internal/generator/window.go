package generator

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// Window keeps the last few conversation turns per thread root so the
// primary backend can see what was said before. Threads are evicted LRU.
type Window struct {
	mu       sync.Mutex
	maxTurns int
	threads  *lru.Cache[string, []types.Turn]
}

// NewWindow returns a window holding up to maxTurns turns for each of up to
// maxThreads threads. A nil *Window is valid and remembers nothing.
func NewWindow(maxTurns, maxThreads int) *Window {
	if maxTurns <= 0 || maxThreads <= 0 {
		return nil
	}
	cache, err := lru.New[string, []types.Turn](maxThreads)
	if err != nil {
		return nil
	}
	return &Window{maxTurns: maxTurns, threads: cache}
}

// History returns a copy of the turns recorded for root, oldest first.
func (w *Window) History(root string) []types.Turn {
	if w == nil || root == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	turns, ok := w.threads.Get(root)
	if !ok {
		return nil
	}
	out := make([]types.Turn, len(turns))
	copy(out, turns)
	return out
}

// Append records one exchange for root.
func (w *Window) Append(root, userText, replyText string) {
	if w == nil || root == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	turns, _ := w.threads.Get(root)
	turns = append(append([]types.Turn(nil), turns...),
		types.Turn{Role: types.RoleUser, Text: userText},
		types.Turn{Role: types.RoleAssistant, Text: replyText},
	)
	if len(turns) > w.maxTurns {
		turns = turns[len(turns)-w.maxTurns:]
	}
	// Keep the window starting on a user turn.
	if len(turns) > 0 && turns[0].Role == types.RoleAssistant {
		turns = turns[1:]
	}
	w.threads.Add(root, turns)
}

// Len returns the number of threads currently remembered.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return w.threads.Len()
}
