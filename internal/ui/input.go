package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Action int

const (
	ActionNone Action = iota
	ActionSend
	ActionOpen
	ActionClose
	ActionRead
	ActionWho
	ActionList
	ActionExport
	ActionQuit
)

// Command is one parsed input line.
type Command struct {
	Action         Action
	ConversationID int64
	Text           string
}

var ErrUnknownCommand = errors.New("unknown command")

// ParseLine turns a line into a Command. Lines not starting with "/" are
// messages; blank lines parse to ActionNone.
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{Action: ActionNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Action: ActionSend, Text: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return Command{}, fmt.Errorf("usage: /open <conversation id>")
		}
		return Command{Action: ActionOpen, ConversationID: id}, nil
	case "close":
		return Command{Action: ActionClose}, nil
	case "read":
		return Command{Action: ActionRead}, nil
	case "who":
		return Command{Action: ActionWho}, nil
	case "list":
		return Command{Action: ActionList}, nil
	case "export":
		if arg == "" {
			return Command{}, fmt.Errorf("usage: /export <file>")
		}
		return Command{Action: ActionExport, Text: arg}, nil
	case "quit", "exit":
		return Command{Action: ActionQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
}

// Chat is the session surface the input bar drives.
type Chat interface {
	SendMessage(text string, conversationID int64)
	SendTyping(isTyping bool, conversationID int64)
	MarkAsRead(conversationID int64)
	GetOnlineUsers()
	SetConversation(id int64)
}

// InputBar applies parsed lines to a chat session.
type InputBar struct {
	chat Chat
}

func NewInputBar(chat Chat) *InputBar {
	return &InputBar{chat: chat}
}

// Handle applies the session side of line and returns the parsed command
// so the caller can redraw.
func (b *InputBar) Handle(line string) (Command, error) {
	cmd, err := ParseLine(line)
	if err != nil {
		return cmd, err
	}

	switch cmd.Action {
	case ActionSend:
		b.chat.SendTyping(false, 0)
		b.chat.SendMessage(cmd.Text, 0)
	case ActionOpen:
		b.chat.SetConversation(cmd.ConversationID)
		b.chat.MarkAsRead(cmd.ConversationID)
	case ActionClose:
		b.chat.SendTyping(false, 0)
		b.chat.SetConversation(0)
	case ActionRead:
		b.chat.MarkAsRead(0)
	case ActionWho:
		b.chat.GetOnlineUsers()
	}
	return cmd, nil
}
