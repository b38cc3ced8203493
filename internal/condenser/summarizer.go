package condenser

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/reason"
	"github.com/driftlabs/taskcore/internal/view"
)

// ErrMalformedSummary marks a collaborator response missing its required
// structure. The caller abandons the compaction attempt for that step and
// keeps the uncompacted view.
var ErrMalformedSummary = errors.New("malformed condensation summary")

// Summarizing retains the first KeepFirst events verbatim and asks the
// reasoning collaborator to fold everything after them, plus any prior
// summary, into a new summary. The returned request carries the exact id
// range of the dropped events and a summary offset equal to KeepFirst.
type Summarizing struct {
	Client     reason.Summarizer
	KeepFirst  int
	Structured bool
}

func (c Summarizing) Compact(ctx context.Context, v view.View) (Result, error) {
	if c.Client == nil {
		return Result{}, fmt.Errorf("summarizing condenser: no summarizer client")
	}
	if c.KeepFirst < 0 {
		return Result{}, fmt.Errorf("summarizing condenser: keep_first must not be negative, got %d", c.KeepFirst)
	}

	prior := ""
	var drop []eventlog.Event
	kept := 0
	for _, evt := range v.Events {
		if view.IsSummary(evt) {
			// The prior summary feeds the next one instead of being dropped
			// by id; it is synthetic, owns no id, and does not consume a
			// keep-first slot.
			prior = evt.Body
			continue
		}
		if kept < c.KeepFirst {
			kept++
			continue
		}
		drop = append(drop, evt)
	}
	if len(drop) == 0 {
		return Result{View: v}, nil
	}

	input := reason.SummaryInput{PriorSummary: prior}
	start, end := drop[0].ID, drop[0].ID
	for _, evt := range drop {
		if evt.ID < start {
			start = evt.ID
		}
		if evt.ID > end {
			end = evt.ID
		}
		input.Events = append(input.Events, eventlog.Render(evt))
	}

	req := &Request{
		ForgottenStart: start,
		ForgottenEnd:   end,
		SummaryOffset:  c.KeepFirst,
	}
	if c.Structured {
		summary, err := c.Client.SummarizeStructured(ctx, input)
		if err != nil {
			return Result{}, fmt.Errorf("structured summarization: %w", err)
		}
		if summary.Empty() {
			return Result{}, fmt.Errorf("structured summarization: %w", ErrMalformedSummary)
		}
		req.Structured = &summary
	} else {
		summary, err := c.Client.Summarize(ctx, input)
		if err != nil {
			return Result{}, fmt.Errorf("summarization: %w", err)
		}
		if summary == "" {
			return Result{}, fmt.Errorf("summarization: %w", ErrMalformedSummary)
		}
		req.Summary = summary
	}
	return Result{View: v, Request: req}, nil
}

// FromConfig builds the configured strategy. Structured summarizing is for
// durable, queryable progress tracking; unstructured otherwise; noop and
// recent-events make no external calls.
func FromConfig(kind string, keep int, client reason.Summarizer) (Condenser, error) {
	switch kind {
	case "", "noop":
		return NoOp{}, nil
	case "recent":
		return RecentEvents{KeepN: keep}, nil
	case "mask":
		return ObservationMasking{KeepRecentN: keep}, nil
	case "summarize":
		return Summarizing{Client: client, KeepFirst: keep}, nil
	case "summarize-structured":
		return Summarizing{Client: client, KeepFirst: keep, Structured: true}, nil
	default:
		return nil, fmt.Errorf("unknown condenser kind %q", kind)
	}
}
