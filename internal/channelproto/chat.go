package channelproto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxChatMessageLength = 4000
	maxChatSenderLength  = 255
)

// ChatMessage is the plaintext sealed inside a Chat message.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChatMessage(sender, text string) (ChatMessage, error) {
	msg := ChatMessage{
		Sender:    sender,
		Message:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := msg.normalize(); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

func (m *ChatMessage) normalize() error {
	m.Message = strings.TrimSpace(m.Message)
	if m.Message == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(m.Message) > maxChatMessageLength {
		return ErrMessageTooLong
	}
	m.Sender = strings.TrimSpace(m.Sender)
	if utf8.RuneCountInString(m.Sender) > maxChatSenderLength {
		return ErrSenderTooLong
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Timestamp = m.Timestamp.UTC()
	return nil
}

// SealChat seals msg into a Chat ready for the channel.
func SealChat(sealer Sealer, msg ChatMessage) (Chat, error) {
	const op = "channelproto.SealChat"

	if err := msg.normalize(); err != nil {
		return Chat{}, fmt.Errorf("%s: %w", op, err)
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return Chat{}, fmt.Errorf("%s: %w", op, err)
	}
	iv, sealed, err := sealer.Seal(plain)
	if err != nil {
		return Chat{}, fmt.Errorf("%s: %w", op, err)
	}
	return Chat{Type: TypeChat, IV: iv, Data: sealed}, nil
}

// OpenChat reverses SealChat.
func OpenChat(sealer Sealer, c Chat) (ChatMessage, error) {
	const op = "channelproto.OpenChat"

	plain, err := sealer.Open(c.IV, c.Data)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	var msg ChatMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		return ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := msg.normalize(); err != nil {
		return ChatMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	return msg, nil
}
