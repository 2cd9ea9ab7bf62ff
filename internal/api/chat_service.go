// Package api exposes the chat facade over gRPC on the profile socket.
package api

import (
	"context"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/chat"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/realtime"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const defaultPageSize = 50

// ChatService implements ChatServiceServer on top of the chat facade.
type ChatService struct {
	profile   string
	startedAt time.Time
	machine   *status.Machine
	chat      *chat.Service
	db        *store.DB
	rt        *realtime.Store
	log       *zap.Logger
}

// NewChatService creates the gRPC chat service. db and rt are only used for
// status counters and may be nil.
func NewChatService(profile string, machine *status.Machine, svc *chat.Service, db *store.DB, rt *realtime.Store, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		profile:   profile,
		startedAt: time.Now(),
		machine:   machine,
		chat:      svc,
		db:        db,
		rt:        rt,
		log:       logger.Named("api"),
	}
}

func (s *ChatService) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		Profile:     s.profile,
		State:       string(s.machine.Current()),
		SinceUnixMs: s.machine.Since().UnixMilli(),
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
	}
	if s.chat != nil {
		resp.Sessions = s.chat.SessionCount()
	}
	if s.rt != nil {
		resp.Connections = s.rt.ConnCount()
	}
	if s.db != nil {
		if n, err := s.db.UserCount(ctx); err == nil {
			resp.Users = n
		}
		if n, err := s.db.ConversationCount(ctx); err == nil {
			resp.Conversations = n
		}
	}
	return resp, nil
}

// Connect opens a facade session for the identity and streams its updates
// until the client goes away or the daemon closes the session.
func (s *ChatService) Connect(req *ConnectRequest, stream grpc.ServerStreamingServer[Update]) error {
	ctx := stream.Context()
	sess, err := s.chat.Open(ctx, req.Identity)
	if err != nil {
		return toStatus(err)
	}
	defer sess.Close()

	user := sess.User()
	if err := stream.Send(&Update{Kind: UpdateSession, SessionID: sess.ID(), User: &user}); err != nil {
		return err
	}

	convs, msgs, typing, pres := sess.Conversations(), sess.Messages(), sess.Typing(), sess.Presence()
	for {
		var u Update
		select {
		case <-ctx.Done():
			return nil
		case list, ok := <-convs:
			if !ok {
				return nil
			}
			u = Update{Kind: UpdateConversations, Conversations: list}
		case page, ok := <-msgs:
			if !ok {
				return nil
			}
			u = Update{Kind: UpdateMessages, Messages: &page}
		case page, ok := <-typing:
			if !ok {
				return nil
			}
			u = Update{Kind: UpdateTyping, Typing: &page}
		case snap, ok := <-pres:
			if !ok {
				return nil
			}
			u = Update{Kind: UpdatePresence, Presence: snap}
		}
		u.SessionID = sess.ID()
		if err := stream.Send(&u); err != nil {
			s.log.Debug("connect stream send failed", zap.String("session", sess.ID()), zap.Error(err))
			return err
		}
	}
}

// caller resolves the acting user and, when given, the session.
func (s *ChatService) caller(c Caller) (string, *chat.Session, error) {
	if c.SessionID != "" {
		sess, err := s.session(c.SessionID)
		if err != nil {
			return "", nil, err
		}
		return sess.User().ID, sess, nil
	}
	if c.UserID == "" {
		return "", nil, apperr.Validation("user_id", "user_id or session_id is required")
	}
	return c.UserID, nil, nil
}

func (s *ChatService) session(id string) (*chat.Session, error) {
	if id == "" {
		return nil, apperr.Validation("session_id", "session_id is required")
	}
	sess, ok := s.chat.Session(id)
	if !ok {
		return nil, apperr.NotFound("session", id)
	}
	return sess, nil
}

func (s *ChatService) StartDM(ctx context.Context, req *StartDMRequest) (*ConversationResponse, error) {
	userID, sess, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	if sess != nil {
		conv, err := sess.StartDM(ctx, req.OtherUserID)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ConversationResponse{Conversation: conv}, nil
	}
	conv, err := s.chat.StartDM(ctx, userID, req.OtherUserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationResponse{Conversation: conv}, nil
}

func (s *ChatService) Send(ctx context.Context, req *SendRequest) (*MessageResponse, error) {
	userID, sess, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	convID := req.ConversationID
	if convID == "" && sess != nil {
		convID = sess.Selected()
	}
	if convID == "" {
		return nil, toStatus(apperr.Validation("conversation_id", "conversation_id is required"))
	}
	msg, err := s.chat.Send(ctx, userID, convID, req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *ChatService) Edit(ctx context.Context, req *EditRequest) (*MessageResponse, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	msg, err := s.chat.Edit(ctx, userID, req.ConversationID, req.MessageID, req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, req *DeleteMessageRequest) (*MessageResponse, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	msg, err := s.chat.DeleteMessage(ctx, userID, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *ChatService) MarkRead(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.chat.MarkRead(ctx, userID, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) DeleteConversation(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	userID, sess, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	if sess != nil {
		err = sess.DeleteConversation(ctx, req.ConversationID)
	} else {
		err = s.chat.DeleteConversation(ctx, userID, req.ConversationID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) SetPinned(ctx context.Context, req *FlagRequest) (*Empty, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.chat.SetPinned(ctx, userID, req.ConversationID, req.On); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) SetArchived(ctx context.Context, req *FlagRequest) (*Empty, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.chat.SetArchived(ctx, userID, req.ConversationID, req.On); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	convs, err := s.chat.ListConversations(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListConversationsResponse{Conversations: convs}, nil
}

func (s *ChatService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	limit := defaultPageSize
	if req.Limit > 0 {
		limit = req.Limit
	}
	before := model.Cursor{ID: req.BeforeID}
	if req.BeforeUnixMs > 0 {
		before.CreatedAt = time.UnixMilli(req.BeforeUnixMs)
	}
	msgs, err := s.chat.History(ctx, userID, req.ConversationID, before, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListMessagesResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *ChatService) SearchUsers(ctx context.Context, req *SearchUsersRequest) (*SearchUsersResponse, error) {
	userID, _, err := s.caller(req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	users, err := s.chat.SearchUsers(ctx, userID, req.Query, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SearchUsersResponse{Users: users}, nil
}

func (s *ChatService) Select(ctx context.Context, req *SelectRequest) (*Empty, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := sess.Select(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *ChatService) SetTyping(ctx context.Context, req *SetTypingRequest) (*Empty, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	if req.ConversationID != "" && req.ConversationID != sess.Selected() {
		return nil, toStatus(apperr.Validation("conversation_id", "conversation is not selected"))
	}
	if err := sess.SetTyping(ctx, req.Typing); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}
