package chat

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/presence"
	"github.com/matheus3301/chatd/internal/realtime"
	"go.uber.org/zap"
)

// MessagePage is the latest page of the selected conversation.
type MessagePage struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// TypingPage lists the other users typing in the selected conversation.
type TypingPage struct {
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
}

// Registry entry names.
const (
	regConn          = "conn"
	regConversations = "conversations"
	regPresence      = "presence"
	regMessages      = "messages"
	regTyping        = "typing"
)

// Session is one user's live view of the chat: the conversation list, the
// selected conversation with its typing indicator, and the presence of
// everyone the user talks to. Every stream keeps only its newest value.
type Session struct {
	id   string
	svc  *Service
	user model.User
	conn *realtime.Conn
	reg  *Registry
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	selected string
	watch    *presence.Watch
	closed   bool

	convOut   chan []model.Conversation
	msgOut    chan MessagePage
	typingOut chan TypingPage
	presOut   chan map[string]model.Presence

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSession(ctx context.Context, svc *Service, id string, user model.User, conn *realtime.Conn) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:        id,
		svc:       svc,
		user:      user,
		conn:      conn,
		reg:       NewRegistry(),
		log:       svc.log.With(zap.String("session", id), zap.String("user", user.ID)),
		ctx:       sctx,
		cancel:    cancel,
		convOut:   make(chan []model.Conversation, 1),
		msgOut:    make(chan MessagePage, 1),
		typingOut: make(chan TypingPage, 1),
		presOut:   make(chan map[string]model.Presence, 1),
	}
	s.reg.Set(regConn, conn.Close)
	return s
}

// start subscribes to the conversation list and the presence of the user
// itself, then selects the broadcast.
func (s *Session) start(ctx context.Context) error {
	s.watch = s.svc.Presence.Subscribe(s.ctx, s.user.ID)
	s.reg.Set(regPresence, s.watch.Close)
	forward(s, s.watch.C(), func(p map[string]model.Presence) { offer(s.presOut, p) })

	convs, unsub := s.svc.Conversations.ListForUser(s.ctx, s.user.ID)
	s.reg.Set(regConversations, unsub)
	forward(s, convs, func(list []model.Conversation) {
		for _, c := range list {
			s.watch.Add(c.Participants...)
		}
		offer(s.convOut, list)
	})

	return s.Select(ctx, model.BroadcastID)
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// User returns the user the session belongs to.
func (s *Session) User() model.User {
	return s.user
}

// Selected returns the id of the selected conversation.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Conversations streams the conversations the user sees.
func (s *Session) Conversations() <-chan []model.Conversation {
	return s.convOut
}

// Messages streams the latest page of the selected conversation.
func (s *Session) Messages() <-chan MessagePage {
	return s.msgOut
}

// Typing streams who else is typing in the selected conversation.
func (s *Session) Typing() <-chan TypingPage {
	return s.typingOut
}

// Presence streams the presence of the user and of every participant of
// the user's conversations.
func (s *Session) Presence() <-chan map[string]model.Presence {
	return s.presOut
}

// Select switches the selected conversation and marks it read. A
// conversation that does not exist yet can be selected if sending to it
// would create it.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return apperr.Validation("conversation_id", "conversation id is required")
	}
	if s.isClosed() {
		return apperr.Validation("session", "session is closed")
	}
	conv, err := s.svc.Conversations.Get(ctx, conversationID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if _, ok := model.IsDMID(conversationID, s.user.ID); !ok && conversationID != model.BroadcastID {
			return err
		}
	case err != nil:
		return err
	case !conv.HasParticipant(s.user.ID):
		return apperr.Permission("not a participant of this conversation")
	}

	s.mu.Lock()
	prev := s.selected
	s.selected = conversationID
	s.mu.Unlock()
	if prev != "" && prev != conversationID {
		s.clearTyping(ctx, prev)
	}

	msgs, unsubMsgs := s.svc.Messages.Subscribe(s.ctx, conversationID)
	s.reg.Set(regMessages, unsubMsgs)
	forward(s, msgs, func(page []model.Message) {
		if s.Selected() == conversationID {
			offer(s.msgOut, MessagePage{ConversationID: conversationID, Messages: page})
		}
	})

	typers, unsubTyping := s.svc.Typing.Subscribe(s.ctx, conversationID)
	s.reg.Set(regTyping, unsubTyping)
	forward(s, typers, func(ids []string) {
		if s.Selected() == conversationID {
			others := slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == s.user.ID })
			offer(s.typingOut, TypingPage{ConversationID: conversationID, UserIDs: others})
		}
	})

	if conv != nil {
		s.watch.Add(conv.Participants...)
	}
	return s.svc.MarkRead(ctx, s.user.ID, conversationID)
}

// Send posts text to a conversation, or to the selected one when
// conversationID is empty.
func (s *Session) Send(ctx context.Context, conversationID, text string) (*model.Message, error) {
	if conversationID == "" {
		conversationID = s.Selected()
	}
	return s.svc.Send(ctx, s.user.ID, conversationID, text)
}

// Edit changes the text of one of the user's messages.
func (s *Session) Edit(ctx context.Context, conversationID, messageID, text string) (*model.Message, error) {
	return s.svc.Edit(ctx, s.user.ID, conversationID, messageID, text)
}

// DeleteMessage soft-deletes one of the user's messages.
func (s *Session) DeleteMessage(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	return s.svc.DeleteMessage(ctx, s.user.ID, conversationID, messageID)
}

// MarkRead clears the user's unread counter on a conversation.
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	return s.svc.MarkRead(ctx, s.user.ID, conversationID)
}

// DeleteConversation deletes a DM the user created. If it was selected the
// broadcast is selected instead.
func (s *Session) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.svc.DeleteConversation(ctx, s.user.ID, conversationID); err != nil {
		return err
	}
	if s.Selected() == conversationID {
		return s.Select(ctx, model.BroadcastID)
	}
	return nil
}

// SearchUsers finds people to start a DM with, excluding the user.
func (s *Session) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	return s.svc.SearchUsers(ctx, s.user.ID, query, 0)
}

// StartDM opens (creating if needed) and selects the DM with otherID.
func (s *Session) StartDM(ctx context.Context, otherID string) (*model.Conversation, error) {
	conv, err := s.svc.StartDM(ctx, s.user.ID, otherID)
	if err != nil {
		return nil, err
	}
	if err := s.Select(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// SetTyping signals that the user is (or stopped) typing in the selected
// conversation.
func (s *Session) SetTyping(ctx context.Context, isTyping bool) error {
	conv := s.Selected()
	if conv == "" {
		return apperr.Validation("conversation_id", "no conversation selected")
	}
	return s.svc.Typing.SetTyping(ctx, conv, s.user.ID, isTyping)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) clearTyping(ctx context.Context, conversationID string) {
	if err := s.svc.Typing.SetTyping(ctx, conversationID, s.user.ID, false); err != nil {
		s.log.Debug("clear typing", zap.Error(err))
	}
}

// Close ends the session: every subscription is disposed, the user's
// typing signal is cleared, the realtime connection drops (taking the user
// offline unless another session is open) and all streams are closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conv := s.selected
		s.mu.Unlock()
		if conv != "" {
			s.clearTyping(context.Background(), conv)
		}
		s.reg.Close()
		s.cancel()
		s.wg.Wait()
		close(s.convOut)
		close(s.msgOut)
		close(s.typingOut)
		close(s.presOut)
		s.svc.forget(s.id)
		s.log.Info("session closed")
	})
}

// forward pumps in into fn until in is closed. Nothing is started once the
// session is closing; the registry disposes the source instead.
func forward[T any](s *Session, in <-chan T, fn func(T)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		for v := range in {
			fn(v)
		}
	}()
}

// offer delivers v on a one-slot channel, replacing an unread older value.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
