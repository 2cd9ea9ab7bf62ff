// Package presence tracks which users are online. Live state sits in the
// realtime store; the last-seen time is mirrored onto the user record so it
// survives restarts.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/chatd/internal/apperr"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/live"
	"github.com/matheus3301/chatd/internal/model"
	"github.com/matheus3301/chatd/internal/realtime"
	"github.com/matheus3301/chatd/internal/store"
	"go.uber.org/zap"
)

// Tracker writes presence on behalf of connected sessions.
type Tracker struct {
	rt  *realtime.Store
	bus *bus.Bus
	db  *store.DB
	log *zap.Logger
	now func() time.Time

	mu    sync.Mutex
	conns map[string]int
}

// NewTracker creates a tracker. db may be nil, in which case presence is not
// mirrored and last-seen falls back to the live state only.
func NewTracker(rt *realtime.Store, b *bus.Bus, db *store.DB, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		rt:    rt,
		bus:   b,
		db:    db,
		log:   logger.Named("presence"),
		now:   time.Now,
		conns: make(map[string]int),
	}
}

// SetOnline marks userID online for the lifetime of conn. When conn drops
// the user goes offline again, unless another connection of the same user
// is still open.
func (p *Tracker) SetOnline(ctx context.Context, conn *realtime.Conn, userID string) error {
	if userID == "" {
		return apperr.Validation("user", "user id is required")
	}
	p.mu.Lock()
	p.conns[userID]++
	p.mu.Unlock()

	p.write(ctx, userID, true)
	conn.OnDisconnect(func() { p.release(userID) })
	return nil
}

// SetOffline marks userID offline immediately. The last write wins, so a
// later SetOnline from any connection brings the user back.
func (p *Tracker) SetOffline(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.Validation("user", "user id is required")
	}
	p.write(ctx, userID, false)
	return nil
}

func (p *Tracker) release(userID string) {
	p.mu.Lock()
	p.conns[userID]--
	remaining := p.conns[userID]
	if remaining <= 0 {
		delete(p.conns, userID)
	}
	p.mu.Unlock()

	if remaining <= 0 {
		p.log.Debug("last connection dropped", zap.String("user", userID))
		p.write(context.Background(), userID, false)
	}
}

func (p *Tracker) write(ctx context.Context, userID string, online bool) {
	at := p.now()
	p.rt.Set(realtime.StatusPath(userID), model.Presence{UserID: userID, IsOnline: online, LastSeenAt: at})
	if p.db == nil {
		return
	}
	if err := p.db.SetPresence(ctx, userID, online, at); err != nil {
		p.log.Warn("mirror presence failed", zap.String("user", userID), zap.Error(err))
	}
}

// Get returns the presence of the given users. Users never seen live are
// reported offline with their persisted last-seen time.
func (p *Tracker) Get(ctx context.Context, userIDs []string) (map[string]model.Presence, error) {
	out := make(map[string]model.Presence, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if v, ok := p.rt.Get(realtime.StatusPath(id)); ok {
			if pr, ok := v.(model.Presence); ok {
				out[id] = pr
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 || p.db == nil {
		for _, id := range missing {
			out[id] = model.Presence{UserID: id}
		}
		return out, nil
	}
	seen, err := p.db.LastSeen(ctx, missing)
	if err != nil {
		return nil, apperr.Wrap("load last seen", err)
	}
	for _, id := range missing {
		out[id] = model.Presence{UserID: id, LastSeenAt: seen[id]}
	}
	return out, nil
}

// Online reports whether userID currently has a live online status.
func (p *Tracker) Online(userID string) bool {
	v, ok := p.rt.Get(realtime.StatusPath(userID))
	if !ok {
		return false
	}
	pr, ok := v.(model.Presence)
	return ok && pr.IsOnline
}

// Subscribe watches the presence of userIDs. The set can grow with Add.
func (p *Tracker) Subscribe(ctx context.Context, userIDs ...string) *Watch {
	w := &Watch{ids: make(map[string]struct{})}
	for _, id := range userIDs {
		w.ids[id] = struct{}{}
	}
	w.q = live.New(ctx, p.bus, live.Options{
		Namespace: bus.KindPresenceChanged,
		Match:     func(e bus.Event) bool { return w.has(e.Key) },
		Logger:    p.log,
		Name:      "presence",
	}, func(ctx context.Context) (map[string]model.Presence, error) {
		out, err := p.Get(ctx, w.list())
		if err != nil {
			p.log.Warn("presence unavailable", zap.Error(err))
			return map[string]model.Presence{}, nil
		}
		return out, nil
	})
	return w
}

// Watch is a running presence subscription.
type Watch struct {
	mu  sync.RWMutex
	ids map[string]struct{}
	q   *live.Query[map[string]model.Presence]
}

// C streams the presence of every watched user.
func (w *Watch) C() <-chan map[string]model.Presence {
	return w.q.C()
}

// Add extends the watched set. A new snapshot is delivered when the set
// actually grew.
func (w *Watch) Add(userIDs ...string) {
	w.mu.Lock()
	grew := false
	for _, id := range userIDs {
		if _, ok := w.ids[id]; !ok && id != "" {
			w.ids[id] = struct{}{}
			grew = true
		}
	}
	w.mu.Unlock()
	if grew {
		w.q.Refresh()
	}
}

// Close stops the watch.
func (w *Watch) Close() {
	w.q.Close()
}

func (w *Watch) has(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.ids[id]
	return ok
}

func (w *Watch) list() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.ids))
	for id := range w.ids {
		ids = append(ids, id)
	}
	return ids
}
