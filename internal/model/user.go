package model

import "time"

// Identity is what the external auth provider hands us on sign-in.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// UserFlags are moderation flags on a user.
type UserFlags struct {
	IsBanned   bool `json:"is_banned"`
	IsVerified bool `json:"is_verified"`
}

// User is a chat participant.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	IsOnline    bool      `json:"is_online"`
	Flags       UserFlags `json:"flags"`
}

// Presence is the live online status of a user.
type Presence struct {
	UserID     string    `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// TypingState is an ephemeral "is typing" marker.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}
