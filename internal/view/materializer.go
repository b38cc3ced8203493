// Package view derives the bounded event sequence shown to the reasoning
// collaborator for one step. Views are recomputed deterministically from the
// log and are safe to discard at any time.
package view

import (
	"strings"

	"github.com/driftlabs/taskcore/internal/eventlog"
)

// SummaryPayloadKey marks the synthetic observation that carries a
// condensation summary inside a materialized view.
const SummaryPayloadKey = "condensation_of"

// View is a derived sequence of events plus the log length it was computed
// at. It has no identity beyond the request that produced it.
type View struct {
	SessionID string
	Events    []eventlog.Event
	LogLen    int
	From      int64
	UpTo      int64
}

// TokenEstimate is a cheap size heuristic over the rendered events, used to
// decide when to condense.
func (v View) TokenEstimate() int {
	total := 0
	for _, evt := range v.Events {
		total += len(eventlog.Render(evt))
	}
	return total / 4
}

// SummaryText returns the text of the synthetic summary observation, if the
// view contains one.
func (v View) SummaryText() string {
	for _, evt := range v.Events {
		if IsSummary(evt) {
			return evt.Body
		}
	}
	return ""
}

// IsSummary reports whether evt is a synthetic summary observation inserted
// by materialization rather than a real log event.
func IsSummary(evt eventlog.Event) bool {
	if evt.Payload == nil {
		return false
	}
	_, ok := evt.Payload[SummaryPayloadKey]
	return ok
}

// Materialize derives the view of log up to and including upTo. The most
// recent condensation event (by id) wins: events inside its forgotten range
// are removed, condensation events themselves never appear, and the winning
// summary is inserted as a synthetic observation at its summary offset,
// counted from the start of the retained sequence and clamped to its length.
func Materialize(log *eventlog.Log, upTo int64) View {
	return MaterializeRange(log, 1, upTo)
}

// MaterializeRange is Materialize bounded below, for controllers that own a
// suffix of a shared log.
func MaterializeRange(log *eventlog.Log, from, upTo int64) View {
	logLen := log.Len()
	events := log.Read(from, upTo)

	var winner *eventlog.Condensation
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == eventlog.KindCondensation && events[i].Condensation != nil {
			winner = events[i].Condensation
			break
		}
	}

	v := View{SessionID: log.SessionID(), LogLen: logLen, From: from, UpTo: upTo}
	if winner == nil {
		retained := make([]eventlog.Event, 0, len(events))
		for _, evt := range events {
			if evt.Kind == eventlog.KindCondensation {
				continue
			}
			retained = append(retained, evt)
		}
		v.Events = retained
		return v
	}

	retained := make([]eventlog.Event, 0, len(events))
	for _, evt := range events {
		if evt.Kind == eventlog.KindCondensation {
			continue
		}
		if winner.Covers(evt.ID) {
			continue
		}
		retained = append(retained, evt)
	}

	offset := winner.SummaryOffset
	if offset < 0 {
		offset = 0
	}
	if offset > len(retained) {
		offset = len(retained)
	}
	summary := syntheticSummary(winner)
	out := make([]eventlog.Event, 0, len(retained)+1)
	out = append(out, retained[:offset]...)
	out = append(out, summary)
	out = append(out, retained[offset:]...)
	v.Events = out
	return v
}

func syntheticSummary(c *eventlog.Condensation) eventlog.Event {
	body := strings.TrimSpace(c.SummaryText())
	if body == "" {
		body = "Earlier events were condensed."
	}
	return eventlog.Event{
		Source: eventlog.SourceEnvironment,
		Kind:   eventlog.KindObservation,
		Body:   body,
		Payload: map[string]any{
			SummaryPayloadKey: []int64{c.ForgottenStart, c.ForgottenEnd},
		},
	}
}
