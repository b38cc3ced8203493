// Package reason defines the boundary to the external reasoning and
// execution collaborators. The controller never interprets what happens on
// the far side of these interfaces; it only appends the results to the log.
package reason

import (
	"context"

	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/view"
)

// Proposal is the reasoning collaborator's response to a view: either a
// terminal answer or a list of proposed actions.
type Proposal struct {
	Finished    bool
	FinalAnswer string
	Actions     []ProposedAction
	Usage       Usage
}

// ProposedAction is one action the collaborator wants executed. When
// Delegate is set the action spawns a nested controller instead of going to
// the execution collaborator.
type ProposedAction struct {
	Body     string
	Payload  map[string]any
	Delegate *DelegateRequest
}

// DelegateRequest asks for a sub-task to be run by a nested controller.
type DelegateRequest struct {
	Task          string
	MaxIterations int64
}

// Usage reports token and cost consumption of a collaborator call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Reasoner consumes a view and returns a proposal. Calls may be long-latency
// and must honor ctx cancellation.
type Reasoner interface {
	Decide(ctx context.Context, v view.View) (Proposal, error)
}

// SummaryInput carries everything the collaborator needs to produce a
// condensation summary: the prior summary, if any, and the rendered text of
// every event about to be forgotten.
type SummaryInput struct {
	PriorSummary string
	Events       []string
}

// Summarizer produces condensation summaries, free-text or structured.
type Summarizer interface {
	Summarize(ctx context.Context, input SummaryInput) (string, error)
	SummarizeStructured(ctx context.Context, input SummaryInput) (eventlog.StateSummary, error)
}

// Executor consumes an action event and returns the resulting observation
// event. The controller appends the observation without interpreting it.
type Executor interface {
	Execute(ctx context.Context, action eventlog.Event) (eventlog.Event, error)
}
