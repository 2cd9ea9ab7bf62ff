// Package typing tracks who is composing a message in which conversation.
// Entries live in the realtime store and clear themselves after a timeout.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/live"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/realtime"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a typing signal stays visible without renewal.
const DefaultTimeout = 3 * time.Second

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Tracker records typing signals and expires them.
type Tracker struct {
	rt      *realtime.Store
	bus     *bus.Bus
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

// NewTracker creates a tracker. A zero timeout means DefaultTimeout.
func NewTracker(rt *realtime.Store, b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		rt:      rt,
		bus:     b,
		log:     logger.Named("typing"),
		timeout: timeout,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Timeout returns the expiry applied to each signal.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// SetTyping records (isTyping=true) or clears (false) a typing signal.
// Repeated true signals push the deadline back without notifying watchers.
func (t *Tracker) SetTyping(_ context.Context, conversationID, userID string, isTyping bool) error {
	if conversationID == "" || userID == "" {
		return apperr.Validation("typing", "conversation and user are required")
	}
	path := realtime.TypingPath(conversationID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[path]; ok {
		e.timer.Stop()
		delete(t.entries, path)
	}
	if !isTyping {
		t.rt.Delete(path)
		return nil
	}

	state := model.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		ExpiresAt:      t.now().Add(t.timeout),
	}
	if !t.rt.Refresh(path, state) {
		t.rt.Set(path, state)
	}
	t.gen++
	gen := t.gen
	t.entries[path] = &entry{
		gen:   gen,
		timer: time.AfterFunc(t.timeout, func() { t.expire(path, gen) }),
	}
	return nil
}

// expire clears path unless the signal was renewed or cleared since the
// timer was armed.
func (t *Tracker) expire(path string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok || e.gen != gen {
		return
	}
	delete(t.entries, path)
	t.rt.Delete(path)
}

// Typing returns the sorted ids of users currently typing in a conversation.
func (t *Tracker) Typing(conversationID string) []string {
	now := t.now()
	ids := []string{}
	for userID, v := range t.rt.List(realtime.TypingPrefix(conversationID)) {
		state, ok := v.(model.TypingState)
		if !ok || !state.ExpiresAt.After(now) {
			continue
		}
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// Subscribe streams the users typing in a conversation. The returned func
// stops the stream.
func (t *Tracker) Subscribe(ctx context.Context, conversationID string) (<-chan []string, func()) {
	q := live.New(ctx, t.bus, live.Options{
		Namespace: bus.KindTypingChanged,
		Keys:      []string{conversationID},
		Logger:    t.log,
		Name:      "typing/" + conversationID,
	}, func(context.Context) ([]string, error) {
		return t.Typing(conversationID), nil
	})
	return q.C(), q.Close
}

// Stop disarms every pending expiry and clears the signals they guarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, e := range t.entries {
		e.timer.Stop()
		t.rt.Delete(path)
	}
	t.entries = make(map[string]*entry)
}
