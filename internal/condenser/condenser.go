// Package condenser holds the compaction strategies that shrink an
// over-large view. Exactly one strategy is active per controller for its
// lifetime, selected at construction.
package condenser

import (
	"context"
	"fmt"

	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/view"
)

// RedactionMarker replaces masked observation bodies.
const RedactionMarker = "[content omitted]"

// Budget is the ceiling past which a controller invokes its condenser.
type Budget struct {
	MaxViewTokens int
	MaxViewEvents int
}

// Exceeded reports whether v is over budget. A zero ceiling disables that
// dimension.
func (b Budget) Exceeded(v view.View) bool {
	if b.MaxViewEvents > 0 && len(v.Events) > b.MaxViewEvents {
		return true
	}
	if b.MaxViewTokens > 0 && v.TokenEstimate() > b.MaxViewTokens {
		return true
	}
	return false
}

// Request asks the caller to append a condensation event to the log and
// re-materialize. ForgottenStart/End cover exactly the dropped event ids.
type Request struct {
	ForgottenStart int64
	ForgottenEnd   int64
	SummaryOffset  int
	Summary        string
	Structured     *eventlog.StateSummary
}

// Condensation converts the request into the log payload it represents.
func (r *Request) Condensation() *eventlog.Condensation {
	return &eventlog.Condensation{
		ForgottenStart: r.ForgottenStart,
		ForgottenEnd:   r.ForgottenEnd,
		Summary:        r.Summary,
		Structured:     r.Structured,
		SummaryOffset:  r.SummaryOffset,
	}
}

// Result is either a compacted view (Request nil) or a condensation request
// the caller must append and re-materialize.
type Result struct {
	View    view.View
	Request *Request
}

// Condenser is the single operation all strategies implement.
type Condenser interface {
	Compact(ctx context.Context, v view.View) (Result, error)
}

// NoOp returns the view unchanged; used when compaction is disabled.
type NoOp struct{}

func (NoOp) Compact(_ context.Context, v view.View) (Result, error) {
	return Result{View: v}, nil
}

// RecentEvents keeps the last KeepN events verbatim. Deterministic, no
// external call, not summarizing.
type RecentEvents struct {
	KeepN int
}

func (c RecentEvents) Compact(_ context.Context, v view.View) (Result, error) {
	if c.KeepN <= 0 {
		return Result{}, fmt.Errorf("recent events condenser: keep_n must be positive, got %d", c.KeepN)
	}
	if len(v.Events) <= c.KeepN {
		return Result{View: v}, nil
	}
	out := v
	out.Events = append([]eventlog.Event(nil), v.Events[len(v.Events)-c.KeepN:]...)
	return Result{View: out}, nil
}

// ObservationMasking replaces observation bodies older than the most recent
// KeepRecentN events with RedactionMarker. Action events are untouched.
type ObservationMasking struct {
	KeepRecentN int
}

func (c ObservationMasking) Compact(_ context.Context, v view.View) (Result, error) {
	if c.KeepRecentN < 0 {
		return Result{}, fmt.Errorf("observation masking condenser: keep_recent_n must not be negative, got %d", c.KeepRecentN)
	}
	cutoff := len(v.Events) - c.KeepRecentN
	if cutoff <= 0 {
		return Result{View: v}, nil
	}
	out := v
	out.Events = append([]eventlog.Event(nil), v.Events...)
	for i := 0; i < cutoff; i++ {
		if out.Events[i].Kind != eventlog.KindObservation {
			continue
		}
		out.Events[i].Body = RedactionMarker
	}
	return Result{View: out}, nil
}
