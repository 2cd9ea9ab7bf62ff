package chat

import (
	"slices"
	"sync"
)

// Registry owns the disposers of one session's subscriptions. Named
// entries replace (and dispose) their previous holder, so switching the
// selected conversation never leaks the old listeners.
type Registry struct {
	mu     sync.Mutex
	names  []string
	byName map[string]func()
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]func())}
}

// Set registers dispose under name, disposing whatever was there before.
// On a closed registry dispose runs immediately.
func (r *Registry) Set(name string, dispose func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		dispose()
		return
	}
	prev, ok := r.byName[name]
	if !ok {
		r.names = append(r.names, name)
	}
	r.byName[name] = dispose
	r.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Dispose runs and forgets the disposer registered under name.
func (r *Registry) Dispose(name string) {
	r.mu.Lock()
	fn := r.byName[name]
	delete(r.byName, name)
	r.names = slices.DeleteFunc(r.names, func(n string) bool { return n == name })
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Len returns the number of live disposers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Close disposes everything, most recently added first. Safe to call more
// than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var fns []func()
	for i := len(r.names) - 1; i >= 0; i-- {
		if fn, ok := r.byName[r.names[i]]; ok {
			fns = append(fns, fn)
		}
	}
	r.byName = map[string]func(){}
	r.names = nil
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
