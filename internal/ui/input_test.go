package ui

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr bool
	}{
		{"", Command{Action: ActionNone}, false},
		{"   ", Command{Action: ActionNone}, false},
		{" hello there ", Command{Action: ActionSend, Text: "hello there"}, false},
		{"/open 42", Command{Action: ActionOpen, ConversationID: 42}, false},
		{"/open", Command{}, true},
		{"/open abc", Command{}, true},
		{"/open -1", Command{}, true},
		{"/close", Command{Action: ActionClose}, false},
		{"/read", Command{Action: ActionRead}, false},
		{"/who", Command{Action: ActionWho}, false},
		{"/list", Command{Action: ActionList}, false},
		{"/export chat.html", Command{Action: ActionExport, Text: "chat.html"}, false},
		{"/export", Command{}, true},
		{"/quit", Command{Action: ActionQuit}, false},
		{"/exit", Command{Action: ActionQuit}, false},
		{"/dance", Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}

	_, err := ParseLine("/dance")
	require.True(t, errors.Is(err, ErrUnknownCommand))
}

type recordingChat struct {
	calls []string
}

func (r *recordingChat) SendMessage(text string, id int64) {
	r.calls = append(r.calls, fmt.Sprintf("send %q %d", text, id))
}

func (r *recordingChat) SendTyping(on bool, id int64) {
	r.calls = append(r.calls, fmt.Sprintf("typing %t %d", on, id))
}

func (r *recordingChat) MarkAsRead(id int64) {
	r.calls = append(r.calls, fmt.Sprintf("read %d", id))
}

func (r *recordingChat) GetOnlineUsers() {
	r.calls = append(r.calls, "who")
}

func (r *recordingChat) SetConversation(id int64) {
	r.calls = append(r.calls, fmt.Sprintf("bind %d", id))
}

func TestInputBar_Handle(t *testing.T) {
	chat := &recordingChat{}
	bar := NewInputBar(chat)

	for _, line := range []string{"/open 42", "hello", "/read", "/who", "/list", "/close"} {
		_, err := bar.Handle(line)
		require.NoError(t, err)
	}

	require.Equal(t, []string{
		"bind 42",
		"read 42",
		"typing false 0",
		`send "hello" 0`,
		"read 0",
		"who",
		"typing false 0",
		"bind 0",
	}, chat.calls)

	_, err := bar.Handle("/nope")
	require.Error(t, err)
}
