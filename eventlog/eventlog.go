// Package eventlog records operator-facing events (key rotations,
// rejected peers, reload failures) keyed by a structured id, so a CLI
// or view layer can list and clear them independently of the slog
// stream they're also written to. Grounded on
// original_source/src/meshmon/event_log.py's EventLog.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type classifies an event's severity, mirroring event_log.py's
// EventType enum.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

func (t Type) level() slog.Level {
	switch t {
	case TypeWarning:
		return slog.LevelWarn
	case TypeError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ID identifies one logged event. Fields beyond MessageID are
// optional scoping context used by Clear to match a subset of events;
// the zero value of a field means "don't filter on this field" both
// when logging and when clearing. Grounded on event_log.py's EventID.
type ID struct {
	MessageID string
	Source    string
	NetworkID string
	UID       string
}

// Event is one recorded occurrence.
type Event struct {
	Type    Type
	Title   string
	Message string
	At      time.Time
}

// EventLog is the contract a daemon component records operator-facing
// events against. It is the interface boundary spec.md §7 treats as an
// external collaborator (a persistent log with webhook emission is out
// of scope); Log below is the in-memory implementation adequate for
// tests and a single-process daemon.
type EventLog interface {
	Record(id ID, eventType Type, title, message string, now time.Time)
	List() map[ID]Event
	Clear(filter ID)
}

// Log is a process-local, mutex-guarded table of events, grounded on
// event_log.py's EventLog. Every logged event is also emitted through
// log/slog at the level matching its Type, so a log aggregator and
// Log's own List/Clear API stay in sync without double bookkeeping.
type Log struct {
	mu     sync.Mutex
	events map[ID]Event
}

// New returns an empty Log.
func New() *Log {
	return &Log{events: make(map[ID]Event)}
}

// Record logs an event under id, replacing any prior event recorded
// under the same id. now is supplied by the caller rather than read
// internally, so tests can assert on exact timestamps.
func (l *Log) Record(id ID, eventType Type, title, message string, now time.Time) {
	l.mu.Lock()
	l.events[id] = Event{Type: eventType, Title: title, Message: message, At: now}
	l.mu.Unlock()

	slog.Log(context.Background(), eventType.level(), "logged event",
		"event_type", string(eventType),
		"message_id", id.MessageID,
		"src", id.Source,
		"network_id", id.NetworkID,
		"uid", id.UID,
		"title", title,
		"message", message,
	)
}

// List returns every currently recorded event, id included, in no
// particular order.
func (l *Log) List() map[ID]Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[ID]Event, len(l.events))
	for id, ev := range l.events {
		out[id] = ev
	}
	return out
}

// Clear removes events matching every non-zero field of filter. A
// zero-value filter clears every event, mirroring event_log.py's
// clear_event() called with no arguments.
func (l *Log) Clear(filter ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if filter == (ID{}) {
		l.events = make(map[ID]Event)
		slog.Info("cleared all events")
		return
	}

	for id := range l.events {
		if filter.MessageID != "" && id.MessageID != filter.MessageID {
			continue
		}
		if filter.Source != "" && id.Source != filter.Source {
			continue
		}
		if filter.NetworkID != "" && id.NetworkID != filter.NetworkID {
			continue
		}
		if filter.UID != "" && id.UID != filter.UID {
			continue
		}
		delete(l.events, id)
		slog.Info("cleared event",
			"message_id", id.MessageID,
			"src", id.Source,
			"network_id", id.NetworkID,
			"uid", id.UID,
		)
	}
}

var _ EventLog = (*Log)(nil)
