// Package ui renders chat state for a terminal and turns input lines into
// session actions.
package ui

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"studiochat/internal/content"
	"studiochat/internal/models"
)

const timeLayout = "15:04"

// RenderConversations writes one line per conversation.
func RenderConversations(w io.Writer, convs []models.Conversation) error {
	if len(convs) == 0 {
		_, err := fmt.Fprintln(w, "no conversations")
		return err
	}
	for _, c := range convs {
		name := c.User.Name
		if name == "" {
			name = c.User.ID
		}
		line := fmt.Sprintf("#%-5d %s", c.ID, content.Plain(name))
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		if c.LastMessage != "" {
			line += ": " + truncate(content.Plain(c.LastMessage), 40)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderThread writes messages in the order given followed by the typing line.
func RenderThread(w io.Writer, msgs []models.Message, selfID string, typing []string) error {
	for _, m := range msgs {
		sender := m.SenderID
		if sender == selfID && selfID != "" {
			sender = "you"
		}
		mark := ""
		if sender == "you" && m.Read {
			mark = " ✓"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s: %s%s\n", m.CreatedAt.Local().Format(timeLayout), sender, content.Plain(m.Body), mark); err != nil {
			return err
		}
	}
	if line := TypingLine(typing); line != "" {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// TypingLine describes who is typing, or returns "".
func TypingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return content.Plain(names[0]) + " is typing..."
	default:
		clean := make([]string, len(names))
		for i, n := range names {
			clean[i] = content.Plain(n)
		}
		return strings.Join(clean, ", ") + " are typing..."
	}
}

// RenderPresence writes the online users, one per line.
func RenderPresence(w io.Writer, online []models.PresenceEntry) error {
	if len(online) == 0 {
		_, err := fmt.Fprintln(w, "nobody online")
		return err
	}
	for _, p := range online {
		name := p.Name
		if name == "" {
			name = p.UserID
		}
		line := "* " + content.Plain(name)
		if p.Role != "" {
			line += " (" + string(p.Role) + ")"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Conversation #{{.Conversation.ID}}</title></head>
<body>
<h1>Conversation with {{.Conversation.User.Name}}</h1>
{{range .Messages}}<article data-id="{{.ID}}">
<header>{{.Sender}} <time datetime="{{.Time}}">{{.Time}}</time></header>
{{.Body}}
</article>
{{end}}</body>
</html>
`))

type transcriptMessage struct {
	ID     int64
	Sender string
	Time   string
	Body   template.HTML
}

// WriteTranscript writes an HTML export of a conversation with markdown
// message bodies rendered and sanitized.
func WriteTranscript(w io.Writer, conv models.Conversation, msgs []models.Message) error {
	data := struct {
		Conversation models.Conversation
		Messages     []transcriptMessage
	}{Conversation: conv}

	for _, m := range msgs {
		body, err := content.RenderMarkdown(m.Body)
		if err != nil {
			return err
		}
		data.Messages = append(data.Messages, transcriptMessage{
			ID:     m.ID,
			Sender: m.SenderID,
			Time:   m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			// Sanitized by RenderMarkdown.
			Body: template.HTML(body),
		})
	}

	if err := transcriptTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
