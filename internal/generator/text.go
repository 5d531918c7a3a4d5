package generator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ibeckermayer/mentionbot/internal/types"
)

// DefaultMaxReplyLength is the Farcaster cast limit in bytes.
const DefaultMaxReplyLength = 320

// buildUserContent renders the mention the way the model sees it.
func buildUserContent(ev types.NotificationEvent) string {
	var b strings.Builder
	if ev.AuthorHandle != "" {
		fmt.Fprintf(&b, "@%s wrote:\n", ev.AuthorHandle)
	} else {
		b.WriteString("A user wrote:\n")
	}
	b.WriteString(strings.TrimSpace(ev.Text))
	b.WriteString("\n\nWrite a single short reply.")
	return b.String()
}

// cleanReply strips whitespace, code fences and wrapping quotes models like
// to add.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop a language tag on the opening fence.
		if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], " \t") {
			s = s[i+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

// Truncate cuts s to at most maxBytes bytes without splitting a rune.
func Truncate(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
