// Package messages appends, edits and soft-deletes chat messages and streams
// the latest page of a conversation.
package messages

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/live"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/store"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize      = 50
	DefaultPreviewLength = 100
)

// Op names the mutation carried by a Change.
type Op string

const (
	OpAppend Op = "append"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Change is the payload of message.changed events.
type Change struct {
	Op             Op
	ConversationID string
	MessageID      string
}

// Options tunes the store.
type Options struct {
	PageSize      int
	PreviewLength int
}

// Store is the message service.
type Store struct {
	db    *store.DB
	bus   *bus.Bus
	log   *zap.Logger
	opts  Options
	now   func() time.Time
	newID func(time.Time) string
}

// NewStore creates a message store.
func NewStore(db *store.DB, b *bus.Bus, opts Options, logger *zap.Logger) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = DefaultPreviewLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:    db,
		bus:   b,
		log:   logger.Named("messages"),
		opts:  opts,
		now:   time.Now,
		newID: func(t time.Time) string { return xid.NewWithTime(t).String() },
	}
}

// Append sends text from senderID into a conversation. The message, the
// conversation summary and the unread counters of the other members are
// written atomically.
func (s *Store) Append(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("text", "message text is empty")
	}
	if conversationID == "" || senderID == "" {
		return nil, apperr.Validation("conversation_id", "conversation and sender are required")
	}
	if err := s.checkNotBanned(ctx, senderID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ID:             s.newID(now),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      now,
		Status:         model.StatusSent,
	}
	members, err := s.db.AppendMessage(ctx, msg, s.opts.PreviewLength)
	if err != nil {
		return nil, apperr.Wrap("append message", err)
	}
	s.log.Debug("message appended",
		zap.String("conversation", conversationID),
		zap.String("message", msg.ID),
		zap.String("sender", senderID))
	s.announce(Change{Op: OpAppend, ConversationID: conversationID, MessageID: msg.ID}, members)
	return msg, nil
}

func (s *Store) checkNotBanned(ctx context.Context, userID string) error {
	u, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return apperr.Wrap("load sender", err)
	}
	if u != nil && u.Flags.IsBanned {
		return apperr.Permission("banned users cannot send messages")
	}
	return nil
}

// Edit replaces the text of a message. Only its sender may edit it.
func (s *Store) Edit(ctx context.Context, conversationID, messageID, newText, requesterID string) (*model.Message, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return nil, apperr.Validation("text", "message text is empty")
	}
	msg, err := s.db.EditMessage(ctx, conversationID, messageID, requesterID, newText, s.now(), s.opts.PreviewLength)
	if err != nil {
		return nil, apperr.Wrap("edit message", err)
	}
	s.changed(ctx, Change{Op: OpEdit, ConversationID: conversationID, MessageID: messageID})
	return msg, nil
}

// SoftDelete replaces the text of a message with the tombstone. Only its
// sender may delete it; deleting twice is a no-op.
func (s *Store) SoftDelete(ctx context.Context, conversationID, messageID, requesterID string) (*model.Message, error) {
	msg, err := s.db.SoftDeleteMessage(ctx, conversationID, messageID, requesterID, s.opts.PreviewLength)
	if err != nil {
		return nil, apperr.Wrap("delete message", err)
	}
	s.changed(ctx, Change{Op: OpDelete, ConversationID: conversationID, MessageID: messageID})
	return msg, nil
}

// changed announces an edit or delete, which may have touched the preview
// every member sees in their conversation list.
func (s *Store) changed(ctx context.Context, c Change) {
	conv, err := s.db.GetConversation(ctx, c.ConversationID)
	if err != nil {
		s.log.Warn("load members for notification", zap.String("conversation", c.ConversationID), zap.Error(err))
	}
	var members []string
	if conv != nil {
		for id := range conv.UnreadCounts {
			members = append(members, id)
		}
	}
	s.announce(c, members)
}

func (s *Store) announce(c Change, members []string) {
	s.bus.Publish(bus.Event{Kind: bus.KindMessageChanged, Key: c.ConversationID, Payload: c})
	s.bus.PublishEach(bus.KindConversationChanged, members, c.ConversationID)
}

// Get returns one message or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	m, err := s.db.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, apperr.Wrap("get message", err)
	}
	if m == nil {
		return nil, apperr.NotFound("message", messageID)
	}
	return m, nil
}

// Exists reports whether the conversation exists.
func (s *Store) Exists(ctx context.Context, conversationID string) (bool, error) {
	ok, err := s.db.ConversationExists(ctx, conversationID)
	if err != nil {
		return false, apperr.Wrap("check conversation", err)
	}
	return ok, nil
}

// Page returns up to limit messages positioned before the cursor, oldest
// first. A zero cursor returns the latest page.
func (s *Store) Page(ctx context.Context, conversationID string, before model.Cursor, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	msgs, err := s.db.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, apperr.Wrap("list messages", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	model.SortMessages(msgs)
	return msgs, nil
}

// Subscribe streams the latest page of a conversation, oldest first. The
// first value is the current page; later values follow every change. The
// returned func stops the stream.
func (s *Store) Subscribe(ctx context.Context, conversationID string) (<-chan []model.Message, func()) {
	q := live.New(ctx, s.bus, live.Options{
		Namespace: bus.KindMessageChanged,
		Keys:      []string{conversationID},
		Logger:    s.log,
		Name:      "messages/" + conversationID,
	}, func(ctx context.Context) ([]model.Message, error) {
		return s.Page(ctx, conversationID, model.Cursor{}, s.opts.PageSize)
	})
	return q.C(), q.Close
}
