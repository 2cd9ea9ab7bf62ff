package chat

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/conversations"
	"github.com/matheus3301/chatd/internal/messages"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/presence"
	"github.com/matheus3301/chatd/internal/realtime"
	"github.com/matheus3301/chatd/internal/store"
	"github.com/matheus3301/chatd/internal/typing"
	"github.com/matheus3301/chatd/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db  *store.DB
	rt  *realtime.Store
	svc *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)

	b := bus.New()
	rt := realtime.New(b)
	svc := NewService(Deps{
		Users:         users.NewDirectory(db, 10, nil),
		Conversations: conversations.NewDirectory(db, b, "", nil),
		Messages:      messages.NewStore(db, b, messages.Options{}, nil),
		Typing:        typing.NewTracker(rt, b, 300*time.Millisecond, nil),
		Presence:      presence.NewTracker(rt, b, db, nil),
		Realtime:      rt,
	}, opts, nil)
	t.Cleanup(func() {
		svc.Close()
		_ = db.Close()
	})
	return &fixture{db: db, rt: rt, svc: svc}
}

func (f *fixture) open(t *testing.T, id, name string) *Session {
	t.Helper()
	sess, err := f.svc.Open(context.Background(), model.Identity{UserID: id, DisplayName: name})
	require.NoError(t, err)
	return sess
}

// await reads from ch until cond holds.
func await[T any](t *testing.T, ch <-chan T, cond func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "stream closed")
			if cond(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timeout waiting for stream value")
			var zero T
			return zero
		}
	}
}

func findConv(list []model.Conversation, id string) *model.Conversation {
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	return nil
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{AnnounceJoins: true})
	ctx := context.Background()

	first := f.open(t, "alice", "Alice")
	first.Close()
	second := f.open(t, "alice", "Alice")
	defer second.Close()

	count, err := f.db.ConversationCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "only the broadcast exists")

	msgs, err := f.db.MessageCount(ctx, model.BroadcastID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, msgs, "the join is announced once")

	assert.Equal(t, model.BroadcastID, second.Selected())
	page := await(t, second.Messages(), func(p MessagePage) bool { return len(p.Messages) == 1 })
	assert.Equal(t, "Alice joined the chat", page.Messages[0].Text)

	list := await(t, second.Conversations(), func(l []model.Conversation) bool { return len(l) == 1 })
	assert.Equal(t, model.BroadcastID, list[0].ID)
}

func TestConcurrentOpenCreatesOneBroadcast(t *testing.T) {
	f := newFixture(t, Options{AnnounceJoins: true})
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sess, err := f.svc.Open(context.Background(), model.Identity{UserID: id, DisplayName: id})
			if assert.NoError(t, err) {
				sess.Close()
			}
		}(id)
	}
	wg.Wait()

	count, err := f.db.ConversationCount(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	msgs, err := f.db.MessageCount(context.Background(), model.BroadcastID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, msgs)
}

// TestDirectMessageScenario walks two users through starting a DM, sending,
// reading, editing and a forbidden edit.
func TestDirectMessageScenario(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "A", "Ann")
	defer a.Close()
	b := f.open(t, "B", "Ben")
	defer b.Close()

	// Both start the DM at the same time.
	var wg sync.WaitGroup
	convs := make([]*model.Conversation, 2)
	for i, pair := range [][2]string{{"A", "B"}, {"B", "A"}} {
		i, pair := i, pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, err := f.svc.StartDM(ctx, pair[0], pair[1])
			assert.NoError(t, err)
			convs[i] = conv
		}()
	}
	wg.Wait()
	require.NotNil(t, convs[0])
	require.NotNil(t, convs[1])
	assert.Equal(t, "dm_A_B", convs[0].ID)
	assert.Equal(t, convs[0].ID, convs[1].ID)
	total, err := f.db.ConversationCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total, "broadcast plus one DM")
	dm := convs[0].ID

	require.NoError(t, a.Select(ctx, dm))
	msg, err := a.Send(ctx, "", "hi")
	require.NoError(t, err)

	list := await(t, b.Conversations(), func(l []model.Conversation) bool {
		c := findConv(l, dm)
		return c != nil && c.Unread("B") == 1
	})
	conv := findConv(list, dm)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hi", conv.LastMessage.TextPreview)

	require.NoError(t, b.MarkRead(ctx, dm))
	await(t, b.Conversations(), func(l []model.Conversation) bool {
		c := findConv(l, dm)
		return c != nil && c.Unread("B") == 0
	})

	edited, err := a.Edit(ctx, dm, msg.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, model.StatusEdited, edited.Status)
	assert.NotNil(t, edited.EditedAt)
	assert.Equal(t, "hello", edited.Text)

	_, err = b.Edit(ctx, dm, msg.ID, "mine now")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	page := await(t, a.Messages(), func(p MessagePage) bool {
		return p.ConversationID == dm && len(p.Messages) == 1 && p.Messages[0].Text == "hello"
	})
	assert.Equal(t, model.StatusEdited, page.Messages[0].Status)
}

func TestSendCreatesDMLazily(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "amy", "Amy")
	defer a.Close()
	f.open(t, "bob", "Bob").Close()

	dm := model.DMID("amy", "bob")
	require.NoError(t, a.Select(ctx, dm))
	_, err := a.Send(ctx, dm, "first!")
	require.NoError(t, err)

	conv, err := f.svc.Conversations.Get(ctx, dm)
	require.NoError(t, err)
	assert.Equal(t, "amy", conv.CreatedBy)
	assert.Equal(t, 1, conv.Unread("bob"))

	// Someone else's DM cannot be created or selected.
	_, err = a.Send(ctx, model.DMID("bob", "carl"), "sneaky")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, a.Select(ctx, model.DMID("bob", "carl")), apperr.ErrNotFound)
}

func TestSelectMarksReadAndSwitchesStreams(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "amy", "Amy")
	defer a.Close()
	b := f.open(t, "bob", "Bob")
	defer b.Close()

	conv, err := a.StartDM(ctx, "bob")
	require.NoError(t, err)
	_, err = a.Send(ctx, conv.ID, "ping")
	require.NoError(t, err)

	require.NoError(t, b.Select(ctx, conv.ID))
	got, err := f.svc.Conversations.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Unread("bob"))

	page := await(t, b.Messages(), func(p MessagePage) bool { return p.ConversationID == conv.ID })
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "ping", page.Messages[0].Text)

	// Messages in the previously selected broadcast no longer reach b.
	_, err = a.Send(ctx, model.BroadcastID, "hello all")
	require.NoError(t, err)
	select {
	case p := <-b.Messages():
		assert.Equal(t, conv.ID, p.ConversationID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTypingIndicatorThroughSessions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "amy", "Amy")
	defer a.Close()
	b := f.open(t, "bob", "Bob")
	defer b.Close()

	require.NoError(t, a.SetTyping(ctx, true))
	await(t, b.Typing(), func(p TypingPage) bool {
		return p.ConversationID == model.BroadcastID && len(p.UserIDs) == 1 && p.UserIDs[0] == "amy"
	})

	// Own signal is not shown back to the typist.
	page := await(t, a.Typing(), func(p TypingPage) bool { return p.ConversationID == model.BroadcastID })
	assert.NotContains(t, page.UserIDs, "amy")

	// Expires without renewal.
	await(t, b.Typing(), func(p TypingPage) bool { return len(p.UserIDs) == 0 })

	// Sending clears the signal immediately.
	require.NoError(t, a.SetTyping(ctx, true))
	await(t, b.Typing(), func(p TypingPage) bool { return len(p.UserIDs) == 1 })
	_, err := a.Send(ctx, "", "done typing")
	require.NoError(t, err)
	assert.Empty(t, f.svc.Typing.Typing(model.BroadcastID))
}

func TestPresenceFollowsSessions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "amy", "Amy")
	defer a.Close()
	b := f.open(t, "bob", "Bob")

	_, err := a.StartDM(ctx, "bob")
	require.NoError(t, err)

	// The DM participant is added to amy's presence watch automatically.
	await(t, a.Presence(), func(m map[string]model.Presence) bool { return m["bob"].IsOnline })

	b.Close()
	snap := await(t, a.Presence(), func(m map[string]model.Presence) bool {
		p, ok := m["bob"]
		return ok && !p.IsOnline
	})
	assert.False(t, snap["bob"].LastSeenAt.IsZero())
	assert.True(t, snap["amy"].IsOnline)
}

func TestDeleteConversationReselectsBroadcast(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "amy", "Amy")
	defer a.Close()
	b := f.open(t, "bob", "Bob")
	defer b.Close()

	conv, err := a.StartDM(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, conv.ID, a.Selected())

	assert.ErrorIs(t, b.DeleteConversation(ctx, conv.ID), apperr.ErrPermission)
	assert.ErrorIs(t, a.DeleteConversation(ctx, model.BroadcastID), apperr.ErrPermission)

	require.NoError(t, a.DeleteConversation(ctx, conv.ID))
	assert.Equal(t, model.BroadcastID, a.Selected())
	await(t, b.Conversations(), func(l []model.Conversation) bool { return findConv(l, conv.ID) == nil })
}

func TestSearchUsersExcludesSelfAndBanned(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	a := f.open(t, "u1", "Sam")
	defer a.Close()
	f.open(t, "u2", "Samantha").Close()
	f.open(t, "u3", "Samuel").Close()
	require.NoError(t, f.svc.Users.SetFlags(ctx, "u3", model.UserFlags{IsBanned: true}))

	found, err := a.SearchUsers(ctx, "sam")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].ID)
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.open(t, "amy", "Amy")
	require.Equal(t, 1, f.svc.SessionCount())
	require.Equal(t, 1, f.rt.ConnCount())

	a.Close()
	a.Close()

	assert.Zero(t, f.svc.SessionCount())
	assert.Zero(t, f.rt.ConnCount())
	assert.False(t, f.svc.Presence.Online("amy"))
	_, ok := <-a.Messages()
	for ok {
		_, ok = <-a.Messages()
	}
	assert.ErrorIs(t, a.Select(context.Background(), model.BroadcastID), apperr.ErrValidation)
}
