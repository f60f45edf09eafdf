// Package update implements the dispatch engine that turns changed
// store paths into handler invocations: two dedupe queues (updates and
// events), path matchers, and worker loops gated on an idle barrier
// (spec §4.2 "UpdateManager").
package update

import (
	"context"
	"sync"
)

// gate is a re-settable binary signal, the Go shape of Python's
// threading.Event: Open unblocks all current and future Wait calls
// until the next Close.
type gate struct {
	mu     sync.Mutex
	isOpen bool
	ch     chan struct{}
}

func newGate(open bool) *gate {
	g := &gate{ch: make(chan struct{})}
	if open {
		close(g.ch)
		g.isOpen = true
	}
	return g
}

func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isOpen {
		g.isOpen = true
		close(g.ch)
	}
}

func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isOpen {
		g.isOpen = false
		g.ch = make(chan struct{})
	}
}

// Wait blocks until the gate is open or ctx is done, returning false in
// the latter case.
func (g *gate) Wait(ctx context.Context) bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// DedupeQueue collects unique path/event identifiers between drains
// (spec §4.2). Safe for concurrent use.
type DedupeQueue struct {
	mu    sync.Mutex
	items map[string]struct{}
	ready *gate
}

// NewDedupeQueue returns an empty queue.
func NewDedupeQueue() *DedupeQueue {
	return &DedupeQueue{items: make(map[string]struct{}), ready: newGate(false)}
}

// Add merges items into the queue, deduplicating by value.
func (q *DedupeQueue) Add(items []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range items {
		q.items[item] = struct{}{}
	}
	if len(q.items) > 0 {
		q.ready.Open()
	}
}

// PopAll drains and returns every queued item, resetting the queue to empty.
func (q *DedupeQueue) PopAll() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]string, 0, len(q.items))
	for item := range q.items {
		items = append(items, item)
	}
	q.items = make(map[string]struct{})
	q.ready.Close()
	return items
}

// WaitForItems blocks until the queue is non-empty or ctx is done.
func (q *DedupeQueue) WaitForItems(ctx context.Context) bool {
	q.mu.Lock()
	ready := q.ready
	q.mu.Unlock()
	return ready.Wait(ctx)
}

// Empty reports whether the queue currently holds no items.
func (q *DedupeQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}
