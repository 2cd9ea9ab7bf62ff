// Package realtime is the ephemeral key/value store behind presence and
// typing indicators. Values live only in memory, every write is announced on
// the bus, and connections can register writes that run when they drop.
package realtime

import (
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/chatd/internal/bus"
)

// StatusPath returns the presence key of a user.
func StatusPath(userID string) string {
	return "status/" + userID
}

// TypingPrefix returns the prefix under which typing entries of a
// conversation live.
func TypingPrefix(conversationID string) string {
	return "typing/" + conversationID + "/"
}

// TypingPath returns the typing key of a user in a conversation.
func TypingPath(conversationID, userID string) string {
	return TypingPrefix(conversationID) + userID
}

// Change is the payload of realtime bus events.
type Change struct {
	Path    string
	Value   any
	Deleted bool
}

// Store is an in-memory tree of values addressed by slash-separated paths.
type Store struct {
	mu    sync.RWMutex
	data  map[string]any
	bus   *bus.Bus
	conns map[*Conn]struct{}
}

// New creates an empty store publishing to b. b may be nil.
func New(b *bus.Bus) *Store {
	return &Store{
		data:  make(map[string]any),
		bus:   b,
		conns: make(map[*Conn]struct{}),
	}
}

// Set writes v at path and notifies watchers.
func (s *Store) Set(path string, v any) {
	s.mu.Lock()
	s.data[path] = v
	s.mu.Unlock()
	s.publish(Change{Path: path, Value: v})
}

// Refresh overwrites an existing value without notifying watchers. It
// returns false, writing nothing, when path is absent.
func (s *Store) Refresh(path string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; !ok {
		return false
	}
	s.data[path] = v
	return true
}

// Delete removes path. Watchers are notified only if a value was removed.
func (s *Store) Delete(path string) bool {
	s.mu.Lock()
	_, ok := s.data[path]
	delete(s.data, path)
	s.mu.Unlock()
	if ok {
		s.publish(Change{Path: path, Deleted: true})
	}
	return ok
}

// Get returns the value stored at path.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[path]
	return v, ok
}

// List returns every value whose path starts with prefix, keyed by the
// remainder of the path.
func (s *Store) List(prefix string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for path, v := range s.data {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// Paths returns all stored paths in lexical order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.data))
	for p := range s.data {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// publish announces a change as "realtime.<namespace>" keyed by the second
// path segment (user id for status, conversation id for typing).
func (s *Store) publish(c Change) {
	if s.bus == nil {
		return
	}
	parts := strings.SplitN(c.Path, "/", 3)
	evt := bus.Event{Kind: "realtime." + parts[0], Payload: c}
	if len(parts) > 1 {
		evt.Key = parts[1]
	}
	s.bus.Publish(evt)
}

// Connect registers a client connection. Its disconnect hooks run when the
// connection is closed or when the store shuts down.
func (s *Store) Connect(clientID string) *Conn {
	c := &Conn{id: clientID, store: s}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	return c
}

// ConnCount returns the number of open connections.
func (s *Store) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close drops every open connection, running their disconnect hooks.
func (s *Store) Close() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Store) forget(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
