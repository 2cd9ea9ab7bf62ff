// Package chat is the facade a client drives: it opens per-user sessions
// and sequences the user, conversation, message, typing and presence
// services behind them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/conversations"
	"github.com/matheus3301/chatd/internal/messages"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/presence"
	"github.com/matheus3301/chatd/internal/realtime"
	"github.com/matheus3301/chatd/internal/typing"
	"github.com/matheus3301/chatd/internal/users"
	"go.uber.org/zap"
)

// Options tunes the facade.
type Options struct {
	// AnnounceJoins posts "<name> joined the chat" in the broadcast the
	// first time a user opens a session.
	AnnounceJoins bool
}

// Deps are the services the facade sequences.
type Deps struct {
	Users         *users.Directory
	Conversations *conversations.Directory
	Messages      *messages.Store
	Typing        *typing.Tracker
	Presence      *presence.Tracker
	Realtime      *realtime.Store
}

// Service opens chat sessions and performs one-shot operations on behalf of
// a user.
type Service struct {
	Deps
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService creates the facade.
func NewService(deps Deps, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Deps:     deps,
		opts:     opts,
		log:      logger.Named("chat"),
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for an authenticated identity: the user record and
// the broadcast conversation are created if needed, the user joins the
// broadcast, goes online for the lifetime of the session, and the broadcast
// is selected. Opening again for the same user creates nothing new.
func (s *Service) Open(ctx context.Context, id model.Identity) (*Session, error) {
	user, _, err := s.Users.Ensure(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.Conversations.GetOrCreateBroadcast(ctx); err != nil {
		return nil, err
	}
	joined, err := s.Conversations.JoinBroadcast(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if joined && s.opts.AnnounceJoins {
		text := fmt.Sprintf("%s joined the chat", user.DisplayName)
		if _, err := s.Messages.Append(ctx, model.BroadcastID, user.ID, text); err != nil {
			s.log.Warn("join announcement failed", zap.String("user", user.ID), zap.Error(err))
		}
	}

	sessionID := uuid.NewString()
	conn := s.Realtime.Connect(sessionID)
	sess := newSession(ctx, s, sessionID, *user, conn)
	if err := s.Presence.SetOnline(ctx, conn, user.ID); err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.start(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	s.log.Info("session opened", zap.String("session", sessionID), zap.String("user", user.ID))
	return sess, nil
}

// Session returns an open session by id.
func (s *Service) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SessionCount returns the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Close ends every open session and disarms pending typing timers.
func (s *Service) Close() {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()
	for _, sess := range open {
		sess.Close()
	}
	s.Typing.Stop()
}

// ensureConversation creates a conversation addressed by id when it does
// not exist yet. Only the broadcast and DMs that include userID can be
// created this way.
func (s *Service) ensureConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.Conversations.Get(ctx, conversationID)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return conv, err
	}
	if conversationID == model.BroadcastID {
		return s.Conversations.GetOrCreateBroadcast(ctx)
	}
	if other, ok := model.IsDMID(conversationID, userID); ok {
		return s.Conversations.GetOrCreateDM(ctx, userID, other)
	}
	return nil, err
}

// Send appends text to a conversation, creating the broadcast or the DM on
// first use.
func (s *Service) Send(ctx context.Context, userID, conversationID, text string) (*model.Message, error) {
	if _, err := s.ensureConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msg, err := s.Messages.Append(ctx, conversationID, userID, text)
	if err != nil {
		return nil, err
	}
	if err := s.Typing.SetTyping(ctx, conversationID, userID, false); err != nil {
		s.log.Debug("clear typing after send", zap.Error(err))
	}
	return msg, nil
}

// Edit changes the text of one of userID's messages.
func (s *Service) Edit(ctx context.Context, userID, conversationID, messageID, text string) (*model.Message, error) {
	return s.Messages.Edit(ctx, conversationID, messageID, text, userID)
}

// DeleteMessage soft-deletes one of userID's messages.
func (s *Service) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) (*model.Message, error) {
	return s.Messages.SoftDelete(ctx, conversationID, messageID, userID)
}

// MarkRead clears userID's unread counter on a conversation.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) error {
	return s.Conversations.MarkRead(ctx, conversationID, userID)
}

// DeleteConversation deletes a DM created by userID.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return s.Conversations.Delete(ctx, conversationID, userID)
}

// SetPinned pins or unpins a DM userID takes part in.
func (s *Service) SetPinned(ctx context.Context, userID, conversationID string, pinned bool) error {
	return s.Conversations.SetPinned(ctx, conversationID, userID, pinned)
}

// SetArchived archives or restores a DM userID takes part in.
func (s *Service) SetArchived(ctx context.Context, userID, conversationID string, archived bool) error {
	return s.Conversations.SetArchived(ctx, conversationID, userID, archived)
}

// SearchUsers finds people userID could start a DM with.
func (s *Service) SearchUsers(ctx context.Context, userID, query string, limit int) ([]model.User, error) {
	return s.Users.Search(ctx, query, userID, limit)
}

// StartDM returns the DM between userID and otherID, creating it if needed.
// The other user must exist.
func (s *Service) StartDM(ctx context.Context, userID, otherID string) (*model.Conversation, error) {
	if _, err := s.Users.Get(ctx, otherID); err != nil {
		return nil, err
	}
	return s.Conversations.GetOrCreateDM(ctx, userID, otherID)
}

// ListConversations lists what userID sees.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return s.Conversations.List(ctx, userID)
}

// History returns a page of messages of a conversation userID can read.
func (s *Service) History(ctx context.Context, userID, conversationID string, before model.Cursor, limit int) ([]model.Message, error) {
	conv, err := s.Conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Permission("not a participant of this conversation")
	}
	return s.Messages.Page(ctx, conversationID, before, limit)
}
