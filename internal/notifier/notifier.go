// Package notifier emails the operator when the bot publishes a reply.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/ibeckermayer/mentionbot/internal/config"
	"github.com/ibeckermayer/mentionbot/internal/notifier/providers"
	"github.com/ibeckermayer/mentionbot/internal/types"
)

// Notifier handles sending reply notifications
type Notifier struct {
	sender   Sender
	to       string
	template *template.Template
	now      func() time.Time
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// Message is a rendered notification.
type Message struct {
	Subject   string
	HTMLBody  string
	PlainBody string
}

// ReplyData is the template data for a published reply.
type ReplyData struct {
	AuthorHandle string
	MentionText  string
	ReplyText    string
	Backend      string
	CastID       string
	Anchor       string
	URL          string
	Date         string
}

// New creates a new notifier with the given sender
func New(sender Sender, toAddr string) (*Notifier, error) {
	tmpl, err := template.New("reply").Parse(replyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Notifier{
		sender:   sender,
		to:       toAddr,
		template: tmpl,
		now:      time.Now,
	}, nil
}

// NewFromConfig creates a notifier based on configuration. It returns nil
// when email is disabled.
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var sender Sender
	switch cfg.Provider {
	case "smtp", "":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender, cfg.ToAddr)
}

// Render builds the email for a published reply.
func (n *Notifier) Render(ev types.NotificationEvent, reply types.GeneratedReply, castID string) (*Message, error) {
	data := ReplyData{
		AuthorHandle: ev.AuthorHandle,
		MentionText:  ev.Text,
		ReplyText:    reply.Text,
		Backend:      string(reply.Backend),
		CastID:       castID,
		Anchor:       ev.ThreadAnchorID,
		URL:          castURL(ev.AuthorHandle, ev.ThreadAnchorID),
		Date:         n.now().Format("Monday, January 2 15:04 MST"),
	}

	var htmlBuf bytes.Buffer
	if err := n.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Message{
		Subject:   fmt.Sprintf("mentionbot replied to @%s", handleOrUnknown(ev.AuthorHandle)),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
	}, nil
}

// NotifyReply renders and sends the notification for a published reply.
func (n *Notifier) NotifyReply(_ context.Context, ev types.NotificationEvent, reply types.GeneratedReply, castID string) error {
	msg, err := n.Render(ev, reply, castID)
	if err != nil {
		return err
	}
	return n.sender.Send(n.to, msg.Subject, msg.HTMLBody, msg.PlainBody)
}

func castURL(handle, hash string) string {
	if handle == "" || len(hash) < 10 {
		return ""
	}
	return fmt.Sprintf("https://warpcast.com/%s/%s", handle, hash[:10])
}

func handleOrUnknown(h string) string {
	if h == "" {
		return "unknown"
	}
	return h
}

func buildPlainText(data ReplyData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Replied to @%s (%s)\n\n", handleOrUnknown(data.AuthorHandle), data.Date)
	fmt.Fprintf(&buf, "They wrote:\n%s\n\n", data.MentionText)
	fmt.Fprintf(&buf, "We replied (%s):\n%s\n\n", data.Backend, data.ReplyText)
	fmt.Fprintf(&buf, "Cast: %s\n", data.CastID)
	if data.URL != "" {
		fmt.Fprintf(&buf, "%s\n", data.URL)
	}
	return buf.String()
}

const replyTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #7c65c1; font-size: 20px; }
        .date { color: #666; margin-bottom: 20px; }
        .quote { border-left: 3px solid #ddd; padding-left: 12px; color: #333; margin: 10px 0; }
        .reply { border-left: 3px solid #7c65c1; padding-left: 12px; margin: 10px 0; }
        .meta { color: #999; font-size: 12px; }
        .link { color: #7c65c1; text-decoration: none; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Replied to @{{.AuthorHandle}}</h1>
        <div class="date">{{.Date}}</div>
        <div class="quote">{{.MentionText}}</div>
        <div class="reply">{{.ReplyText}}</div>
        <div class="meta">backend: {{.Backend}} · cast: {{.CastID}}</div>
        {{if .URL}}<a href="{{.URL}}" class="link">Open thread →</a>{{end}}
    </div>
</body>
</html>`
