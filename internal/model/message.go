package model

import (
	"fmt"
	"sort"
	"time"
)

// Tombstone replaces the text of a soft-deleted message.
const Tombstone = "This message was deleted"

// MessageStatus tracks whether a message was edited after sending.
type MessageStatus string

const (
	StatusSent   MessageStatus = "sent"
	StatusEdited MessageStatus = "edited"
)

// Message is a single chat message inside a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Text           string        `json:"text"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status"`
	Deleted        bool          `json:"deleted"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
}

// Validate checks the fields every stored message must carry.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("message without id")
	case m.ConversationID == "":
		return fmt.Errorf("message %s without conversation", m.ID)
	case m.SenderID == "":
		return fmt.Errorf("message %s without sender", m.ID)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("message %s without created_at", m.ID)
	}
	switch m.Status {
	case StatusSent, StatusEdited:
	default:
		return fmt.Errorf("message %s has unknown status %q", m.ID, m.Status)
	}
	return nil
}

// SortMessages orders msgs by creation time, oldest first. Ids are
// time-sortable and break ties between messages created in the same instant.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Cursor is a position in a conversation's history, in the same
// (CreatedAt, ID) order SortMessages uses. The zero Cursor is the newest end.
// A Cursor without ID bounds on time alone.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the position of m. Paging before it continues with the
// next older message, even one created in the same instant.
func CursorOf(m Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// IsZero reports whether c is unbounded.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Preview truncates text to at most n runes for conversation summaries.
func Preview(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
