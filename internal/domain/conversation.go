package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const MaxConversationIDLen = 64

var ErrConversationIDEmpty = errors.New("conversation id empty")

type ConversationID string

func ParseConversationID(raw string) (ConversationID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrConversationIDEmpty
	}
	if len(s) > MaxConversationIDLen {
		return "", ErrMalformed
	}
	return ConversationID(s), nil
}

func (id ConversationID) String() string { return string(id) }

// Message is what the storage layer hands over after a successful write.
// Body is relayed to clients untouched.
type Message struct {
	ID             string
	ConversationID ConversationID
	SenderID       UserID
	Preview        string
	Body           json.RawMessage
}

// ReadMark is a per-reader watermark; it only ever moves forward.
type ReadMark struct {
	ConversationID ConversationID
	ReaderID       UserID
	LastReadAt     time.Time
}
