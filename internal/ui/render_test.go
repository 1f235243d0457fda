package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"studiochat/internal/models"

	"github.com/stretchr/testify/require"
)

func TestRenderConversations(t *testing.T) {
	var buf bytes.Buffer
	err := RenderConversations(&buf, []models.Conversation{
		{ID: 42, User: models.UserRef{ID: "u1", Name: "Ann"}, UnreadCount: 2, LastMessage: "see <b>you</b>"},
		{ID: 7, User: models.UserRef{ID: "u2"}},
	})
	require.NoError(t, err)
	require.Equal(t, "#42    Ann (2 unread): see you\n#7     u2\n", buf.String())

	buf.Reset()
	require.NoError(t, RenderConversations(&buf, nil))
	require.Equal(t, "no conversations\n", buf.String())
}

func TestRenderThread(t *testing.T) {
	at := time.Date(2026, 1, 2, 9, 30, 0, 0, time.Local)
	msgs := []models.Message{
		{ID: 1, SenderID: "me", Body: "hello", CreatedAt: at, Read: true},
		{ID: 2, SenderID: "u1", Body: "<script>x</script>hi", CreatedAt: at.Add(time.Minute)},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderThread(&buf, msgs, "me", []string{"Ann"}))
	require.Equal(t, "[09:30] you: hello ✓\n[09:31] u1: hi\nAnn is typing...\n", buf.String())
}

func TestTypingLine(t *testing.T) {
	require.Empty(t, TypingLine(nil))
	require.Equal(t, "Ann is typing...", TypingLine([]string{"Ann"}))
	require.Equal(t, "Ann, Bob are typing...", TypingLine([]string{"Ann", "Bob"}))
}

func TestRenderPresence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderPresence(&buf, []models.PresenceEntry{
		{UserID: "u1", Name: "Ann", Role: models.RoleAdmin},
		{UserID: "u2"},
	}))
	require.Equal(t, "* Ann (admin)\n* u2\n", buf.String())
}

func TestWriteTranscript(t *testing.T) {
	conv := models.Conversation{ID: 42, User: models.UserRef{Name: "Ann <Ops>"}}
	msgs := []models.Message{
		{ID: 1, SenderID: "u1", Body: "**done**", CreatedAt: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)},
		{ID: 2, SenderID: "u2", Body: `<img src=x onerror="alert(1)">ok`},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTranscript(&buf, conv, msgs))
	out := buf.String()

	require.Contains(t, out, "<title>Conversation #42</title>")
	require.Contains(t, out, "Conversation with Ann &lt;Ops&gt;")
	require.Contains(t, out, "<strong>done</strong>")
	require.Contains(t, out, `datetime="2026-01-02T09:30:00Z"`)
	require.NotContains(t, out, "onerror")
	require.Equal(t, 2, strings.Count(out, "<article"))
}
