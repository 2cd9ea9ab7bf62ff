// Package conversations owns conversation records: DM and broadcast
// creation, per-user listing, read marks and the permission-gated cascade
// delete.
package conversations

import (
	"context"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/live"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// DefaultBroadcastTitle names the broadcast conversation when none is
// configured.
const DefaultBroadcastTitle = "General"

// Directory is the conversation service.
type Directory struct {
	db             *store.DB
	bus            *bus.Bus
	log            *zap.Logger
	broadcastTitle string
	now            func() time.Time
}

// NewDirectory creates a conversation directory.
func NewDirectory(db *store.DB, b *bus.Bus, broadcastTitle string, logger *zap.Logger) *Directory {
	if broadcastTitle == "" {
		broadcastTitle = DefaultBroadcastTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		db:             db,
		bus:            b,
		log:            logger.Named("conversations"),
		broadcastTitle: broadcastTitle,
		now:            time.Now,
	}
}

// GetOrCreateDM returns the DM between userA and userB, creating it on first
// use. Concurrent callers converge on one record; the initiator of the
// winning insert becomes its creator.
func (d *Directory) GetOrCreateDM(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, apperr.Validation("participants", "both participants are required")
	}
	if userA == userB {
		return nil, apperr.Validation("participants", "cannot start a conversation with yourself")
	}
	conv := &model.Conversation{
		ID:        model.DMID(userA, userB),
		Kind:      model.KindDM,
		CreatedBy: userA,
		CreatedAt: d.now(),
	}
	created, err := d.db.CreateConversation(ctx, conv, []store.Member{
		{UserID: userA, Participant: true},
		{UserID: userB, Participant: true},
	})
	if err != nil {
		return nil, apperr.Wrap("create dm", err)
	}
	if created {
		d.log.Info("dm created", zap.String("conversation", conv.ID), zap.String("by", userA))
		d.bus.PublishEach(bus.KindConversationChanged, []string{userA, userB}, conv.ID)
	}
	return d.Get(ctx, conv.ID)
}

// GetOrCreateBroadcast returns the singleton broadcast conversation,
// creating it on first use.
func (d *Directory) GetOrCreateBroadcast(ctx context.Context) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:        model.BroadcastID,
		Kind:      model.KindGroup,
		CreatedAt: d.now(),
		Metadata:  model.Metadata{Pinned: true, Title: d.broadcastTitle},
	}
	created, err := d.db.CreateConversation(ctx, conv, nil)
	if err != nil {
		return nil, apperr.Wrap("create broadcast", err)
	}
	if created {
		d.log.Info("broadcast conversation created", zap.String("title", d.broadcastTitle))
	}
	return d.Get(ctx, model.BroadcastID)
}

// JoinBroadcast records userID as a reader of the broadcast so it carries an
// unread counter. Reports whether the user joined for the first time.
func (d *Directory) JoinBroadcast(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, apperr.Validation("user_id", "user id is required")
	}
	joined, err := d.db.AddMember(ctx, model.BroadcastID, store.Member{UserID: userID, LastReadAt: d.now()})
	if err != nil {
		return false, apperr.Wrap("join broadcast", err)
	}
	if joined {
		d.bus.Publish(bus.Event{Kind: bus.KindConversationChanged, Key: userID, Payload: model.BroadcastID})
	}
	return joined, nil
}

// Get returns a conversation or apperr.ErrNotFound.
func (d *Directory) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := d.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Wrap("get conversation", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation", conversationID)
	}
	return conv, nil
}

// List returns the conversations visible to userID: the broadcast first,
// then the rest by most recent activity.
func (d *Directory) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	convs, err := d.db.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap("list conversations", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

// ListForUser streams List for userID, re-querying whenever one of the
// user's conversations changes. The returned func stops the stream.
func (d *Directory) ListForUser(ctx context.Context, userID string) (<-chan []model.Conversation, func()) {
	q := live.New(ctx, d.bus, live.Options{
		Namespace: bus.KindConversationChanged,
		Keys:      []string{userID},
		Logger:    d.log,
		Name:      "conversations/" + userID,
	}, func(ctx context.Context) ([]model.Conversation, error) {
		return d.List(ctx, userID)
	})
	return q.C(), q.Close
}

// MarkRead resets the unread counter of userID. A missing conversation or
// membership is not an error.
func (d *Directory) MarkRead(ctx context.Context, conversationID, userID string) error {
	ok, err := d.db.MarkRead(ctx, conversationID, userID, d.now())
	if err != nil {
		return apperr.Wrap("mark read", err)
	}
	if ok {
		d.bus.Publish(bus.Event{Kind: bus.KindConversationChanged, Key: userID, Payload: conversationID})
	}
	return nil
}

// Delete removes a DM together with its messages. Only the DM's creator may
// delete it, and group conversations cannot be deleted.
func (d *Directory) Delete(ctx context.Context, conversationID, requesterID string) error {
	participants, err := d.db.DeleteConversation(ctx, conversationID, requesterID)
	if err != nil {
		return apperr.Wrap("delete conversation", err)
	}
	d.log.Info("conversation deleted", zap.String("conversation", conversationID), zap.String("by", requesterID))
	d.bus.Publish(bus.Event{Kind: bus.KindMessageChanged, Key: conversationID})
	d.bus.PublishEach(bus.KindConversationChanged, participants, conversationID)
	return nil
}

// SetPinned pins or unpins a DM for its participants.
func (d *Directory) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	return d.updateMetadata(ctx, conversationID, userID, func(ctx context.Context) error {
		return d.db.SetConversationPinned(ctx, conversationID, pinned)
	})
}

// SetArchived archives or restores a DM for its participants.
func (d *Directory) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return d.updateMetadata(ctx, conversationID, userID, func(ctx context.Context) error {
		return d.db.SetConversationArchived(ctx, conversationID, archived)
	})
}

// updateMetadata checks userID may change the conversation, then runs write,
// which touches only its own column.
func (d *Directory) updateMetadata(ctx context.Context, conversationID, userID string, write func(context.Context) error) error {
	conv, err := d.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.IsBroadcast() {
		return apperr.Permission("the broadcast conversation cannot be changed")
	}
	if !conv.HasParticipant(userID) {
		return apperr.Permission("only participants can change this conversation")
	}
	if err := write(ctx); err != nil {
		return apperr.Wrap("update conversation", err)
	}
	d.bus.PublishEach(bus.KindConversationChanged, conv.Participants, conversationID)
	return nil
}
