// Package providers adapts LLM APIs to the generator's Completer contract.
package providers

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// Request is one completion call.
type Request struct {
	System   string
	User     string
	ImageURL string       // set only for vision-capable calls
	History  []types.Turn // prior turns, oldest first
}

// Completer produces text for a request
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// imageMimeType guesses an image content type from the URL path.
func imageMimeType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if t := mime.TypeByExtension(strings.ToLower(path.Ext(u.Path))); strings.HasPrefix(t, "image/") {
			return t
		}
	}
	return "image/jpeg"
}
