// Package eventlog holds the append-only, id-ordered record of everything
// that happened during a run. Events are never mutated or removed once
// appended; compaction is represented by condensation events, not by
// deleting history.
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DurableSink receives every appended event for durable storage. Appends for
// an id that is already stored must be a no-op so that recovery can replay.
type DurableSink interface {
	AppendEvent(ctx context.Context, sessionID string, evt Event) error
}

type Log struct {
	sessionID string
	sink      DurableSink

	mu     sync.RWMutex
	events []Event

	nowFn func() time.Time
}

type Option func(*Log)

// WithSink attaches durable storage. Sink failures propagate from Append and
// the event is not added to the in-memory log.
func WithSink(sink DurableSink) Option {
	return func(l *Log) { l.sink = sink }
}

func WithClock(nowFn func() time.Time) Option {
	return func(l *Log) {
		if nowFn != nil {
			l.nowFn = nowFn
		}
	}
}

func NewLog(sessionID string, opts ...Option) *Log {
	l := &Log{
		sessionID: sessionID,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Replay rebuilds a log from previously persisted events. Ids must be
// strictly increasing; replayed events are not re-sent to the sink.
func Replay(sessionID string, events []Event, opts ...Option) (*Log, error) {
	l := NewLog(sessionID, opts...)
	var last int64
	for _, evt := range events {
		if evt.ID <= last {
			return nil, fmt.Errorf("replay %s: event id %d not strictly increasing after %d", sessionID, evt.ID, last)
		}
		last = evt.ID
	}
	l.events = append(l.events, events...)
	return l, nil
}

func (l *Log) SessionID() string {
	return l.sessionID
}

// Append assigns the next id to evt, durably stores it when a sink is
// attached, and adds it to the log. The assigned id is returned. Append
// never fails except on a durability fault, which is propagated, not
// retried.
func (l *Log) Append(ctx context.Context, evt Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt.ID = l.latestLocked() + 1
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = l.nowFn()
	}
	if l.sink != nil {
		if err := l.sink.AppendEvent(ctx, l.sessionID, evt); err != nil {
			return 0, fmt.Errorf("append event %d: %w", evt.ID, err)
		}
	}
	l.events = append(l.events, evt)
	return evt.ID, nil
}

// Read returns events with ids in [from, to] in id order. to <= 0 means "up
// to the latest event".
func (l *Log) Read(from, to int64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from < 1 {
		from = 1
	}
	if to <= 0 {
		to = l.latestLocked()
	}
	out := make([]Event, 0, len(l.events))
	for _, evt := range l.events {
		if evt.ID < from || evt.ID > to {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// LatestID returns the highest assigned id, or 0 for an empty log.
func (l *Log) LatestID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestLocked()
}

// Len is the number of appended events. Views are cached against this value
// and invalidated by any append.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *Log) latestLocked() int64 {
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].ID
}
