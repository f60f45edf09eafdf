package config

import "sync"

// Preprocessor narrows a full Config down to the value one subscriber
// cares about. Returning ok=false means "not interested in this
// generation" — the bus drops that watcher, mirroring bus.py's
// ConfigPreprocessor.preprocess returning None.
type Preprocessor[T any] interface {
	Preprocess(cfg *Config) (T, bool)
}

// Watcher holds one subscriber's current view of the config plus the
// callbacks to notify when it changes. Grounded on bus.py's
// ConfigWatcher.
type Watcher[T any] struct {
	mu           sync.RWMutex
	preprocessor Preprocessor[T]
	current      T
	subscribers  []func(T)
}

func newWatcher[T any](p Preprocessor[T], initial T) *Watcher[T] {
	return &Watcher[T]{preprocessor: p, current: initial}
}

// Subscribe registers callback to run each time a published config
// passes this watcher's preprocessor, whether or not the resulting
// value differs from the previous one.
func (w *Watcher[T]) Subscribe(callback func(T)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers = append(w.subscribers, callback)
}

// Current returns the watcher's most recently applied value.
func (w *Watcher[T]) Current() T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// apply runs the preprocessor against cfg and, if it still wants
// updates, notifies subscribers. It reports whether the watcher should
// remain registered.
func (w *Watcher[T]) apply(cfg *Config) bool {
	next, ok := w.preprocessor.Preprocess(cfg)
	if !ok {
		return false
	}
	w.mu.Lock()
	w.current = next
	subscribers := append([]func(T){}, w.subscribers...)
	w.mu.Unlock()
	for _, cb := range subscribers {
		cb(next)
	}
	return true
}

// Bus is the named external collaborator spec.md §1 places out of
// scope beyond its interface: something that loads Config (from disk,
// git, wherever) and republishes it to subscribers on every reload.
// This package implements only the contract plus MemoryBus, an
// in-memory test double — a real disk/git-backed loader is an external
// collaborator this repo does not implement.
type Bus interface {
	// Loaded reports whether a config generation has ever been
	// published.
	Loaded() bool
}

type watcherHandle interface {
	apply(cfg *Config) bool
}

// MemoryBus is an in-memory Bus, fed by calling Publish directly. It
// is the test double spec.md §1 calls for in place of a real
// disk/git-backed ConfigBus (bus.py's ConfigBus).
type MemoryBus struct {
	mu       sync.RWMutex
	cfg      *Config
	watchers []watcherHandle
}

// NewMemoryBus returns an empty, unloaded MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Loaded implements Bus.
func (b *MemoryBus) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg != nil
}

// Publish makes cfg the bus's current generation and notifies every
// subscribed watcher, dropping any whose preprocessor rejects the new
// generation. Grounded on bus.py's ConfigBus.new_config.
func (b *MemoryBus) Publish(cfg *Config) {
	b.mu.Lock()
	b.cfg = cfg
	watchers := append([]watcherHandle{}, b.watchers...)
	b.mu.Unlock()

	live := make([]watcherHandle, 0, len(watchers))
	for _, w := range watchers {
		if w.apply(cfg) {
			live = append(live, w)
		}
	}

	b.mu.Lock()
	b.watchers = live
	b.mu.Unlock()
}

// Subscribe registers a typed watcher against the bus's current
// config generation, mirroring bus.py's ConfigBus.get_watcher. Go
// forbids generic methods, so this is a free function taking the bus
// as its first argument (the same shape as pulsewave.GetValue).
func Subscribe[T any](b *MemoryBus, p Preprocessor[T]) (*Watcher[T], bool) {
	b.mu.RLock()
	cfg := b.cfg
	b.mu.RUnlock()

	initial, ok := p.Preprocess(cfg)
	if !ok {
		return nil, false
	}
	w := newWatcher(p, initial)

	b.mu.Lock()
	b.watchers = append(b.watchers, w)
	b.mu.Unlock()

	return w, true
}
