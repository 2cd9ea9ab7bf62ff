package model

import (
	"fmt"
	"strings"
	"time"
)

// BroadcastID identifies the singleton general conversation every user sees.
const BroadcastID = "general"

// Kind distinguishes direct messages from group conversations.
type Kind string

const (
	KindDM    Kind = "dm"
	KindGroup Kind = "group"
)

// ParseKind converts a stored kind into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDM, KindGroup:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown conversation kind %q", s)
}

// DMID returns the conversation id shared by the unordered pair (a, b).
func DMID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm_" + a + "_" + b
}

// IsDMID reports whether id is a DM id that includes userID, and returns the
// other participant. User ids containing "_" make the split ambiguous, so the
// candidate is verified by rebuilding the id.
func IsDMID(id, userID string) (other string, ok bool) {
	rest, found := strings.CutPrefix(id, "dm_")
	if !found || userID == "" {
		return "", false
	}
	if after, ok := strings.CutPrefix(rest, userID+"_"); ok && after != "" && DMID(userID, after) == id {
		return after, true
	}
	if before, ok := strings.CutSuffix(rest, "_"+userID); ok && before != "" && DMID(userID, before) == id {
		return before, true
	}
	return "", false
}

// Summary is the last-message preview shown in conversation lists.
type Summary struct {
	MessageID   string    `json:"message_id"`
	TextPreview string    `json:"text_preview"`
	SenderID    string    `json:"sender_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Metadata holds display flags of a conversation.
type Metadata struct {
	Archived bool   `json:"archived"`
	Pinned   bool   `json:"pinned"`
	Title    string `json:"title,omitempty"`
}

// Conversation is a DM pair or a group chat. The broadcast conversation has
// no explicit participants: everyone is implicitly in it.
type Conversation struct {
	ID            string               `json:"id"`
	Kind          Kind                 `json:"kind"`
	Participants  []string             `json:"participants,omitempty"`
	CreatedBy     string               `json:"created_by,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	LastMessageAt time.Time            `json:"last_message_at"`
	LastMessage   *Summary             `json:"last_message,omitempty"`
	UnreadCounts  map[string]int       `json:"unread_counts"`
	LastReadAt    map[string]time.Time `json:"last_read_at"`
	Metadata      Metadata             `json:"metadata"`
}

// IsBroadcast reports whether c is the general conversation.
func (c *Conversation) IsBroadcast() bool {
	return c.ID == BroadcastID
}

// HasParticipant reports whether userID may read and write in c.
func (c *Conversation) HasParticipant(userID string) bool {
	if c.IsBroadcast() {
		return true
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Unread returns the unread counter of userID (0 when unknown).
func (c *Conversation) Unread(userID string) int {
	return c.UnreadCounts[userID]
}

// Validate checks the structural invariants of a decoded conversation.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("conversation without id")
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return fmt.Errorf("conversation %s: %w", c.ID, err)
	}
	if c.Kind == KindDM {
		if len(c.Participants) != 2 {
			return fmt.Errorf("dm %s has %d participants, want 2", c.ID, len(c.Participants))
		}
		if DMID(c.Participants[0], c.Participants[1]) != c.ID {
			return fmt.Errorf("dm %s does not match participants %v", c.ID, c.Participants)
		}
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("conversation %s has no created_at", c.ID)
	}
	return nil
}
