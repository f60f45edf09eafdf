package update

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns the update and event dispatch pipelines for a single
// store: one dedupe queue and controller per kind, run on two worker
// goroutines gated by an idle barrier so events only process once any
// in-flight update batch has drained (spec §4.2).
type Manager struct {
	updateQueue      *DedupeQueue
	updateController *Controller
	eventQueue       *DedupeQueue
	eventController  *Controller
	idle             *gate

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager returns a Manager with no handlers registered.
func NewManager() *Manager {
	return &Manager{
		updateQueue:      NewDedupeQueue(),
		updateController: NewController(),
		eventQueue:       NewDedupeQueue(),
		eventController:  NewController(),
		idle:             newGate(true),
	}
}

// AddHandler registers a handler for changed store paths.
func (m *Manager) AddHandler(h Handler) {
	m.updateController.Add(h)
}

// AddEventHandler registers a handler for events.
func (m *Manager) AddEventHandler(h Handler) {
	m.eventController.Add(h)
}

// TriggerUpdate enqueues changed paths and clears the idle barrier
// until the update loop drains them.
func (m *Manager) TriggerUpdate(paths []string) {
	if len(paths) == 0 {
		return
	}
	m.idle.Close()
	m.updateQueue.Add(paths)
}

// TriggerEvent enqueues a single named event.
func (m *Manager) TriggerEvent(event string) {
	m.eventQueue.Add([]string{event})
}

// WaitUntilIdle blocks until no update batch is in flight or ctx is done.
func (m *Manager) WaitUntilIdle(ctx context.Context) bool {
	return m.idle.Wait(ctx)
}

// Start launches the update and event worker loops.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.runUpdateLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.runEventLoop(ctx)
	}()
}

// Stop cancels both worker loops, waits for them to exit, and stops
// every registered handler.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.updateController.Stop()
	m.eventController.Stop()
}

func (m *Manager) runUpdateLoop(ctx context.Context) {
	for {
		if !m.updateQueue.WaitForItems(ctx) {
			return
		}
		for {
			paths := m.updateQueue.PopAll()
			slog.Debug("processing updates", "paths", paths)
			m.updateController.Handle(paths)
			if m.updateQueue.Empty() {
				break
			}
		}
		m.idle.Open()
	}
}

func (m *Manager) runEventLoop(ctx context.Context) {
	for {
		if !m.eventQueue.WaitForItems(ctx) {
			return
		}
		events := m.eventQueue.PopAll()
		if !m.idle.Wait(ctx) {
			return
		}
		slog.Debug("processing events", "events", events)
		m.eventController.Handle(events)
	}
}
