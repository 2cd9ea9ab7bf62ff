package realtime

import "sync"

// Conn is a client connection to the store.
type Conn struct {
	id    string
	store *Store

	mu     sync.Mutex
	hooks  []func()
	closed bool
}

// ID returns the client id given to Connect.
func (c *Conn) ID() string {
	return c.id
}

// OnDisconnect registers fn to run when the connection drops. Hooks run in
// reverse registration order. Registering on a closed connection runs fn
// immediately.
func (c *Conn) OnDisconnect(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Close drops the connection and runs its disconnect hooks once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	c.store.forget(c)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
