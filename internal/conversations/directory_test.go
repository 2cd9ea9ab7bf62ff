package conversations

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/messages"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db   *store.DB
	bus  *bus.Bus
	dir  *Directory
	msgs *messages.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	return &fixture{
		db:   db,
		bus:  b,
		dir:  NewDirectory(db, b, "", nil),
		msgs: messages.NewStore(db, b, messages.Options{}, nil),
	}
}

func TestGetOrCreateDMConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*model.Conversation, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := f.dir.GetOrCreateDM(ctx, a, b)
			assert.NoError(t, err)
			results[i] = conv
		}(i)
	}
	wg.Wait()

	count, err := f.db.ConversationCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	for _, conv := range results {
		require.NotNil(t, conv)
		assert.Equal(t, "dm_alice_bob", conv.ID)
		assert.Equal(t, []string{"alice", "bob"}, conv.Participants)
		assert.Equal(t, 0, conv.Unread("alice"))
		assert.Equal(t, 0, conv.Unread("bob"))
		assert.Equal(t, results[0].CreatedBy, conv.CreatedBy)
	}
}

func TestGetOrCreateDMValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.dir.GetOrCreateDM(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.dir.GetOrCreateDM(context.Background(), "", "bob")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBroadcastIsSingleton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.dir.GetOrCreateBroadcast(ctx)
	require.NoError(t, err)
	second, err := f.dir.GetOrCreateBroadcast(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.BroadcastID, first.ID)
	assert.Equal(t, model.KindGroup, first.Kind)
	assert.Equal(t, "General", first.Metadata.Title)
	assert.True(t, first.Metadata.Pinned)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	joined, err := f.dir.JoinBroadcast(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, joined)
	joined, err = f.dir.JoinBroadcast(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestListForUserOrderingAndUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.dir.GetOrCreateBroadcast(ctx)
	require.NoError(t, err)
	ab, err := f.dir.GetOrCreateDM(ctx, "alice", "bob")
	require.NoError(t, err)
	ac, err := f.dir.GetOrCreateDM(ctx, "alice", "carol")
	require.NoError(t, err)
	_, err = f.dir.GetOrCreateDM(ctx, "bob", "carol")
	require.NoError(t, err)

	ch, unsub := f.dir.ListForUser(ctx, "alice")
	defer unsub()
	list := recvList(t, ch)
	require.Len(t, list, 3)
	assert.Equal(t, model.BroadcastID, list[0].ID)

	_, err = f.msgs.Append(ctx, ab.ID, "bob", "ping")
	require.NoError(t, err)
	list = waitList(t, ch, func(l []model.Conversation) bool { return len(l) == 3 && l[1].ID == ab.ID })
	assert.Equal(t, 1, list[1].Unread("alice"))

	// Activity is ordered by millisecond timestamps.
	time.Sleep(5 * time.Millisecond)
	_, err = f.msgs.Append(ctx, ac.ID, "carol", "pong")
	require.NoError(t, err)
	waitList(t, ch, func(l []model.Conversation) bool { return len(l) == 3 && l[1].ID == ac.ID && l[2].ID == ab.ID })
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDM(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.msgs.Append(ctx, conv.ID, "alice", "one")
	require.NoError(t, err)
	_, err = f.msgs.Append(ctx, conv.ID, "alice", "two")
	require.NoError(t, err)

	got, err := f.dir.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Unread("bob"))

	require.NoError(t, f.dir.MarkRead(ctx, conv.ID, "bob"))
	got, err = f.dir.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Unread("bob"))
	assert.False(t, got.LastReadAt["bob"].IsZero())

	// Missing conversation or member is a silent no-op.
	assert.NoError(t, f.dir.MarkRead(ctx, "dm_nobody_x", "bob"))
	assert.NoError(t, f.dir.MarkRead(ctx, conv.ID, "stranger"))
}

func TestDeletePermissionsAndCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.dir.GetOrCreateBroadcast(ctx)
	require.NoError(t, err)
	conv, err := f.dir.GetOrCreateDM(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.msgs.Append(ctx, conv.ID, "bob", "hi")
	require.NoError(t, err)

	err = f.dir.Delete(ctx, model.BroadcastID, "alice")
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Contains(t, err.Error(), "not a DM")

	err = f.dir.Delete(ctx, conv.ID, "bob")
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Contains(t, err.Error(), "not creator")

	ch, unsub := f.msgs.Subscribe(ctx, conv.ID)
	defer unsub()
	select {
	case page := <-ch:
		require.Len(t, page, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}

	require.NoError(t, f.dir.Delete(ctx, conv.ID, "alice"))
	select {
	case page := <-ch:
		assert.Empty(t, page)
	case <-time.After(2 * time.Second):
		t.Fatal("message subscribers were not told about the delete")
	}

	_, err = f.dir.Get(ctx, conv.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	err = f.dir.Delete(ctx, conv.ID, "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPinAndArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDM(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.dir.GetOrCreateBroadcast(ctx)
	require.NoError(t, err)

	require.NoError(t, f.dir.SetPinned(ctx, conv.ID, "bob", true))
	require.NoError(t, f.dir.SetArchived(ctx, conv.ID, "alice", true))
	got, err := f.dir.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Metadata.Pinned)
	assert.True(t, got.Metadata.Archived)

	assert.ErrorIs(t, f.dir.SetPinned(ctx, conv.ID, "mallory", true), apperr.ErrPermission)
	assert.ErrorIs(t, f.dir.SetArchived(ctx, model.BroadcastID, "alice", true), apperr.ErrPermission)
	assert.ErrorIs(t, f.dir.SetPinned(ctx, "dm_x_y", "x", true), apperr.ErrNotFound)
}

func TestConcurrentPinAndArchiveKeepBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.dir.GetOrCreateDM(ctx, "alice", "bob")
	require.NoError(t, err)

	for iter := 0; iter < 20; iter++ {
		require.NoError(t, f.dir.SetPinned(ctx, conv.ID, "alice", false))
		require.NoError(t, f.dir.SetArchived(ctx, conv.ID, "bob", false))

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- f.dir.SetPinned(ctx, conv.ID, "alice", true)
		}()
		go func() {
			defer wg.Done()
			errs <- f.dir.SetArchived(ctx, conv.ID, "bob", true)
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := f.dir.Get(ctx, conv.ID)
		require.NoError(t, err)
		require.True(t, got.Metadata.Pinned, "pin lost")
		require.True(t, got.Metadata.Archived, "archive lost")
	}
}

func recvList(t *testing.T, ch <-chan []model.Conversation) []model.Conversation {
	t.Helper()
	select {
	case l := <-ch:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for conversation list")
	}
	return nil
}

func waitList(t *testing.T, ch <-chan []model.Conversation, cond func([]model.Conversation) bool) []model.Conversation {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case l := <-ch:
			if cond(l) {
				return l
			}
		case <-deadline:
			t.Fatal("timeout waiting for conversation list")
			return nil
		}
	}
}
