package api

import (
	"github.com/matheus3301/chatd/internal/chat"
	"github.com/matheus3301/chatd/internal/model"
)

// Caller identifies who performs a request: an open session, or a bare user
// id for one-shot calls. SessionID wins when both are set.
type Caller struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type Empty struct{}

type StatusRequest struct{}

type StatusResponse struct {
	Profile       string `json:"profile"`
	State         string `json:"state"`
	SinceUnixMs   int64  `json:"since_unix_ms"`
	UptimeMs      int64  `json:"uptime_ms"`
	Sessions      int    `json:"sessions"`
	Connections   int    `json:"connections"`
	Users         int64  `json:"users"`
	Conversations int64  `json:"conversations"`
}

type ConnectRequest struct {
	Identity model.Identity `json:"identity"`
}

// UpdateKind names which part of a session an Update carries.
type UpdateKind string

const (
	UpdateSession       UpdateKind = "session"
	UpdateConversations UpdateKind = "conversations"
	UpdateMessages      UpdateKind = "messages"
	UpdateTyping        UpdateKind = "typing"
	UpdatePresence      UpdateKind = "presence"
)

// Update is one frame of the Connect stream. The first frame is always an
// UpdateSession carrying the session id.
type Update struct {
	Kind          UpdateKind                `json:"kind"`
	SessionID     string                    `json:"session_id,omitempty"`
	User          *model.User               `json:"user,omitempty"`
	Conversations []model.Conversation      `json:"conversations,omitempty"`
	Messages      *chat.MessagePage         `json:"messages,omitempty"`
	Typing        *chat.TypingPage          `json:"typing,omitempty"`
	Presence      map[string]model.Presence `json:"presence,omitempty"`
}

type StartDMRequest struct {
	Caller
	OtherUserID string `json:"other_user_id"`
}

type ConversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
}

type SendRequest struct {
	Caller
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

type EditRequest struct {
	Caller
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
}

type DeleteMessageRequest struct {
	Caller
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type MessageResponse struct {
	Message *model.Message `json:"message"`
}

type ConversationRequest struct {
	Caller
	ConversationID string `json:"conversation_id"`
}

type FlagRequest struct {
	Caller
	ConversationID string `json:"conversation_id"`
	On             bool   `json:"on"`
}

type ListConversationsRequest struct {
	Caller
}

type ListConversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
}

type ListMessagesRequest struct {
	Caller
	ConversationID string `json:"conversation_id"`
	BeforeUnixMs   int64  `json:"before_unix_ms,omitempty"`
	BeforeID       string `json:"before_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

type SearchUsersRequest struct {
	Caller
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchUsersResponse struct {
	Users []model.User `json:"users"`
}

type SelectRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
}

// SetTypingRequest signals typing in the session's selected conversation.
// A non-empty ConversationID must match the selection.
type SetTypingRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Typing         bool   `json:"typing"`
}
