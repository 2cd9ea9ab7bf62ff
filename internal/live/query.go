// Package live turns a one-shot query into a push stream that re-runs the
// query whenever a matching bus event arrives.
package live

import (
	"context"
	"sync"

	"github.com/matheus3301/chatd/internal/bus"
	"go.uber.org/zap"
)

// FetchFunc loads the current value of a query.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options selects which bus events trigger a re-fetch.
type Options struct {
	Namespace string
	Keys      []string
	// Match further filters events after the namespace and key filters.
	Match  func(bus.Event) bool
	Logger *zap.Logger
	Name   string
}

// Query is a running live query. The first value is delivered as soon as the
// initial fetch completes; later values follow every matching change. The
// channel holds at most one pending value and a newer value replaces an
// unread older one.
type Query[T any] struct {
	fetch  FetchFunc[T]
	match  func(bus.Event) bool
	log    *zap.Logger
	out    chan T
	poke   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	unsub  func()
	once   sync.Once
}

// New starts a live query. Call Close to stop it.
func New[T any](ctx context.Context, b *bus.Bus, opts Options, fetch FetchFunc[T]) *Query[T] {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Name != "" {
		log = log.With(zap.String("query", opts.Name))
	}
	ctx, cancel := context.WithCancel(ctx)
	events, unsub := b.Subscribe(opts.Namespace, 16, opts.Keys...)
	q := &Query[T]{
		fetch:  fetch,
		match:  opts.Match,
		log:    log,
		out:    make(chan T, 1),
		poke:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
		unsub:  unsub,
	}
	go q.run(ctx, events)
	return q
}

// C returns the stream of query results. It is closed by Close.
func (q *Query[T]) C() <-chan T {
	return q.out
}

// Refresh asks the query to re-fetch even though no event arrived.
func (q *Query[T]) Refresh() {
	select {
	case q.poke <- struct{}{}:
	default:
	}
}

// Close stops the query and closes the result channel. Safe to call more
// than once.
func (q *Query[T]) Close() {
	q.once.Do(func() {
		q.cancel()
		<-q.done
		q.unsub()
		close(q.out)
	})
}

func (q *Query[T]) run(ctx context.Context, events <-chan bus.Event) {
	defer close(q.done)
	q.load(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			relevant := q.relevant(evt)
			if q.drain(events) {
				relevant = true
			}
			if !relevant {
				continue
			}
			q.load(ctx)
		case <-q.poke:
			q.drain(events)
			q.load(ctx)
		}
	}
}

// drain consumes queued events so a burst of changes causes one fetch.
// Reports whether any of them was relevant.
func (q *Query[T]) drain(events <-chan bus.Event) bool {
	relevant := false
	for {
		select {
		case evt := <-events:
			if q.relevant(evt) {
				relevant = true
			}
		default:
			return relevant
		}
	}
}

func (q *Query[T]) relevant(evt bus.Event) bool {
	return q.match == nil || q.match(evt)
}

func (q *Query[T]) load(ctx context.Context) {
	v, err := q.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			q.log.Warn("live query fetch failed, keeping last value", zap.Error(err))
		}
		return
	}
	select {
	case <-q.out:
	default:
	}
	q.out <- v
}
