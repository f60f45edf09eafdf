package update

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDedupeQueueAddPopAll(t *testing.T) {
	q := NewDedupeQueue()
	if !q.Empty() {
		t.Fatal("expected new queue to be empty")
	}
	q.Add([]string{"a", "b", "a"})
	if q.Empty() {
		t.Fatal("expected queue to be non-empty after add")
	}
	items := q.PopAll()
	if len(items) != 2 {
		t.Fatalf("expected 2 deduplicated items, got %d", len(items))
	}
	if !q.Empty() {
		t.Fatal("expected queue to be empty after pop")
	}
}

func TestDedupeQueueWaitForItems(t *testing.T) {
	q := NewDedupeQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if q.WaitForItems(ctx) {
		t.Fatal("expected wait to time out on empty queue")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Add([]string{"x"})
	}()
	if !q.WaitForItems(ctx2) {
		t.Fatal("expected wait to succeed once item added")
	}
}

type fakeHandler struct {
	matcher Matcher
	calls   int32
}

func (h *fakeHandler) HandleUpdate() { atomic.AddInt32(&h.calls, 1) }
func (h *fakeHandler) Stop()         {}
func (h *fakeHandler) Matcher() Matcher { return h.matcher }

func TestControllerDispatchesMatchingHandlersOnce(t *testing.T) {
	c := NewController()
	h := &fakeHandler{matcher: ExactPathMatcher{Path: "nodes.a.values.k"}}
	other := &fakeHandler{matcher: ExactPathMatcher{Path: "nodes.b.values.k"}}
	c.Add(h)
	c.Add(other)

	c.Handle([]string{"nodes.a.values.k", "nodes.a.values.k"})

	if atomic.LoadInt32(&h.calls) != 1 {
		t.Fatalf("expected handler called once, got %d", h.calls)
	}
	if atomic.LoadInt32(&other.calls) != 0 {
		t.Fatalf("expected non-matching handler not called, got %d", other.calls)
	}
}

func TestControllerDispatchesOnceAcrossMixedCacheHitAndMiss(t *testing.T) {
	c := NewController()
	h := &fakeHandler{matcher: NewRegexPathMatcher([]string{`^nodes\..+\.consistency\.clock_table\..+$`})}
	c.Add(h)

	// Warm the cache for one path.
	c.Handle([]string{"nodes.a.consistency.clock_table.x"})
	if atomic.LoadInt32(&h.calls) != 1 {
		t.Fatalf("expected handler called once after warmup, got %d", h.calls)
	}

	// A batch mixing the now-cached path with a brand new one matching
	// the same handler must still only invoke it once.
	c.Handle([]string{"nodes.a.consistency.clock_table.x", "nodes.b.consistency.clock_table.y"})
	if atomic.LoadInt32(&h.calls) != 2 {
		t.Fatalf("expected handler called exactly once more for the mixed batch, got %d total", h.calls)
	}
}

func TestControllerRegexMatcher(t *testing.T) {
	c := NewController()
	h := &fakeHandler{matcher: NewRegexPathMatcher([]string{`^nodes\..*\.consistency\..*`})}
	c.Add(h)

	c.Handle([]string{"nodes.a.consistency.clock_table", "nodes.a.values.k"})

	if atomic.LoadInt32(&h.calls) != 1 {
		t.Fatalf("expected one match from regex handler, got %d", h.calls)
	}
}

func TestManagerUpdateThenEventOrdering(t *testing.T) {
	m := NewManager()

	var mu sync.Mutex
	var order []string

	updateHandler := &orderHandler{name: "update", order: &order, mu: &mu, matcher: ExactPathMatcher{Path: "p"}}
	eventHandler := &orderHandler{name: "event", order: &order, mu: &mu, matcher: ExactPathMatcher{Path: "ev"}}
	m.AddHandler(updateHandler)
	m.AddEventHandler(eventHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.TriggerUpdate([]string{"p"})
	m.TriggerEvent("ev")

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for handlers to run")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "update" || order[1] != "event" {
		t.Fatalf("expected update before event, got %v", order)
	}
}

type orderHandler struct {
	name    string
	order   *[]string
	mu      *sync.Mutex
	matcher Matcher
}

func (h *orderHandler) HandleUpdate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.order = append(*h.order, h.name)
}
func (h *orderHandler) Stop()           {}
func (h *orderHandler) Matcher() Matcher { return h.matcher }
