// Package controller drives one task's execution: it advances iteration
// counters, materializes a bounded view of the shared event log, condenses
// it when over budget, hands the view to the reasoning collaborator, appends
// the resulting events, and runs delegated sub-tasks to completion on an
// explicit frame stack.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftlabs/taskcore/internal/condenser"
	"github.com/driftlabs/taskcore/internal/eventlog"
	"github.com/driftlabs/taskcore/internal/reason"
	"github.com/driftlabs/taskcore/internal/view"
)

var (
	ErrTerminal      = errors.New("controller is in a terminal state")
	ErrNotResumed    = errors.New("restored controller must be resumed before stepping")
	ErrNotRunning    = errors.New("controller is not running")
	ErrOutOfRange    = errors.New("append outside controller log range")
	ErrDelegateDepth = errors.New("delegate depth limit exceeded")
)

// StepResult reports what one step did.
type StepResult struct {
	Proposal  reason.Proposal
	Appended  []int64
	Condensed bool
	Throttled bool
}

type Controller struct {
	log      *eventlog.Log
	state    *State
	reasoner reason.Reasoner
	executor reason.Executor

	cond   condenser.Condenser
	budget condenser.Budget

	maxDelegateDepth int

	cache  view.Cache
	stack  *Stack
	logger *slog.Logger
}

type Option func(*Controller)

// WithExecutor attaches the execution collaborator that turns action events
// into observation events.
func WithExecutor(exec reason.Executor) Option {
	return func(c *Controller) { c.executor = exec }
}

// WithCondenser selects the compaction strategy and the budget that
// triggers it. The strategy is fixed for the controller's lifetime.
func WithCondenser(cond condenser.Condenser, budget condenser.Budget) Option {
	return func(c *Controller) {
		c.cond = cond
		c.budget = budget
	}
}

func WithMaxDelegateDepth(depth int) Option {
	return func(c *Controller) { c.maxDelegateDepth = depth }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func withStack(stack *Stack) Option {
	return func(c *Controller) { c.stack = stack }
}

func New(log *eventlog.Log, state *State, reasoner reason.Reasoner, opts ...Option) *Controller {
	c := &Controller{
		log:              log,
		state:            state,
		reasoner:         reasoner,
		maxDelegateDepth: 3,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.stack == nil {
		c.stack = newStack()
		c.stack.push(c)
	}
	return c
}

func (c *Controller) State() *State {
	return c.state
}

// Stack exposes the frame stack for inspection.
func (c *Controller) Stack() *Stack {
	return c.stack
}

// View materializes the controller's current view without stepping.
func (c *Controller) View() view.View {
	return c.materialize()
}

// Step performs one iteration: counters, view, optional condensation, the
// reasoning call, and the append of every resulting event. Collaborator and
// durability errors propagate; the caller decides between ERROR and retry.
func (c *Controller) Step(ctx context.Context) (StepResult, error) {
	var res StepResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	st := c.state
	switch {
	case st.Lifecycle.Terminal():
		return res, fmt.Errorf("step %s: %w", st.SessionID, ErrTerminal)
	case st.Lifecycle == StateLoading:
		if st.ResumeState != "" {
			return res, fmt.Errorf("step %s: %w", st.SessionID, ErrNotResumed)
		}
		if err := st.Transition(StateRunning); err != nil {
			return res, err
		}
	case st.Lifecycle != StateRunning:
		return res, fmt.Errorf("step %s in state %s: %w", st.SessionID, st.Lifecycle, ErrNotRunning)
	}

	st.recordStep()
	defer st.syncShared()
	st.refreshBudget()
	res.Throttled = st.Throttled()
	if res.Throttled {
		c.logger.Warn("budget throttled",
			"session_id", st.SessionID,
			"local_iteration", st.LocalIteration,
			"cost_usd", st.Metrics().CostUSD)
	}

	v := c.materialize()
	if c.cond != nil && c.budget.Exceeded(v) {
		var err error
		v, res.Condensed, err = c.condense(ctx, v)
		if err != nil {
			return res, err
		}
	}

	proposal, err := c.reasoner.Decide(ctx, v)
	st.recordUsage(proposal.Usage)
	if err != nil {
		// Record the failure so it is part of the permanent record, then
		// surface it; retry policy belongs to the caller. A durability fault
		// on the record itself surfaces alongside the reasoner error.
		if _, aerr := c.append(ctx, eventlog.Event{
			Source:  eventlog.SourceEnvironment,
			Kind:    eventlog.KindObservation,
			Body:    fmt.Sprintf("reasoning error: %v", err),
			Payload: map[string]any{"error": "reasoner"},
		}); aerr != nil {
			return res, errors.Join(fmt.Errorf("reasoner: %w", err), aerr)
		}
		return res, fmt.Errorf("reasoner: %w", err)
	}
	res.Proposal = proposal

	for _, action := range proposal.Actions {
		if action.Delegate != nil {
			ids, err := c.runDelegate(ctx, action)
			res.Appended = append(res.Appended, ids...)
			if err != nil {
				return res, err
			}
			continue
		}
		id, err := c.appendAction(ctx, &res, action)
		if err != nil {
			return res, err
		}
		if c.executor != nil {
			if err := c.executeAction(ctx, &res, id); err != nil {
				return res, err
			}
		}
	}

	if proposal.Finished {
		if proposal.FinalAnswer != "" {
			id, err := c.append(ctx, eventlog.Event{
				Source:  eventlog.SourceAgent,
				Kind:    eventlog.KindAction,
				Body:    proposal.FinalAnswer,
				Payload: map[string]any{"finish": true},
			})
			if err != nil {
				return res, err
			}
			res.Appended = append(res.Appended, id)
		}
		if err := st.Transition(StateFinished); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Run steps until the controller leaves the running state: terminal,
// awaiting the user, throttled, or cancelled. Step errors propagate without
// a lifecycle change so the caller can retry or fail the task.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.stopTree()
			return err
		}
		if c.state.Lifecycle.Terminal() {
			return nil
		}
		res, err := c.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.stopTree()
			}
			return err
		}
		if c.state.Lifecycle != StateRunning {
			return nil
		}
		if res.Throttled {
			return nil
		}
	}
}

// Stop requests a cooperative stop. Frames above this controller stop
// first, so an active delegate is stopped before its parent is considered
// stopped.
func (c *Controller) Stop() error {
	for _, frame := range reversed(c.stack.above(c)) {
		if frame.state.Lifecycle.Terminal() {
			continue
		}
		if err := frame.state.Transition(StateStopped); err != nil {
			return err
		}
	}
	if c.state.Lifecycle.Terminal() {
		return nil
	}
	return c.state.Transition(StateStopped)
}

func (c *Controller) stopTree() {
	_ = c.Stop()
}

func (c *Controller) materialize() view.View {
	st := c.state
	upTo := c.log.LatestID()
	if st.RangeEnd > 0 && upTo >= st.RangeEnd {
		upTo = st.RangeEnd - 1
	}
	return c.cache.Materialize(c.log, st.RangeStart, upTo)
}

// condense runs the active strategy. A failed attempt is abandoned for this
// step, recorded as a system event, and the uncompacted view is used.
func (c *Controller) condense(ctx context.Context, v view.View) (view.View, bool, error) {
	result, err := c.cond.Compact(ctx, v)
	if err != nil {
		c.logger.Warn("condensation abandoned", "session_id", c.state.SessionID, "error", err)
		if _, aerr := c.append(ctx, eventlog.Event{
			Source:  eventlog.SourceEnvironment,
			Kind:    eventlog.KindSystem,
			Body:    fmt.Sprintf("condensation abandoned: %v", err),
			Payload: map[string]any{"error": "condensation"},
		}); aerr != nil {
			return v, false, aerr
		}
		return c.materialize(), false, nil
	}
	if result.Request == nil {
		return result.View, false, nil
	}
	if _, err := c.append(ctx, eventlog.Event{
		Source:       eventlog.SourceAgent,
		Kind:         eventlog.KindCondensation,
		Condensation: result.Request.Condensation(),
	}); err != nil {
		return v, false, err
	}
	return c.materialize(), true, nil
}

func (c *Controller) appendAction(ctx context.Context, res *StepResult, action reason.ProposedAction) (int64, error) {
	id, err := c.append(ctx, eventlog.Event{
		Source:  eventlog.SourceAgent,
		Kind:    eventlog.KindAction,
		Body:    action.Body,
		Payload: action.Payload,
	})
	if err != nil {
		return 0, err
	}
	res.Appended = append(res.Appended, id)
	return id, nil
}

func (c *Controller) executeAction(ctx context.Context, res *StepResult, actionID int64) error {
	actions := c.log.Read(actionID, actionID)
	if len(actions) != 1 {
		return fmt.Errorf("action %d not found in log", actionID)
	}
	obs, err := c.executor.Execute(ctx, actions[0])
	if err != nil {
		id, aerr := c.append(ctx, eventlog.Event{
			Source:  eventlog.SourceEnvironment,
			Kind:    eventlog.KindObservation,
			Body:    fmt.Sprintf("execution error: %v", err),
			Payload: map[string]any{"error": "executor", "action_id": actionID},
		})
		if aerr != nil {
			return aerr
		}
		res.Appended = append(res.Appended, id)
		return fmt.Errorf("execute action %d: %w", actionID, err)
	}
	if obs.Source == "" {
		obs.Source = eventlog.SourceEnvironment
	}
	if obs.Kind == "" {
		obs.Kind = eventlog.KindObservation
	}
	id, err := c.append(ctx, obs)
	if err != nil {
		return err
	}
	res.Appended = append(res.Appended, id)
	return nil
}

// runDelegate records the delegation action, runs a nested controller to a
// terminal state while the parent is blocked, and appends a single
// delegation-result observation to the parent's range.
func (c *Controller) runDelegate(ctx context.Context, action reason.ProposedAction) ([]int64, error) {
	st := c.state
	req := action.Delegate
	if c.maxDelegateDepth > 0 && st.DelegateDepth+1 > c.maxDelegateDepth {
		return nil, fmt.Errorf("delegate at depth %d: %w", st.DelegateDepth+1, ErrDelegateDepth)
	}

	body := action.Body
	if body == "" {
		body = req.Task
	}
	actionID, err := c.append(ctx, eventlog.Event{
		Source:  eventlog.SourceAgent,
		Kind:    eventlog.KindAction,
		Body:    body,
		Payload: map[string]any{"delegate_task": req.Task},
	})
	if err != nil {
		return nil, err
	}
	appended := []int64{actionID}

	if err := st.Transition(StateDelegating); err != nil {
		return appended, err
	}
	st.syncShared()

	childState := NewDelegate(st, c.log.LatestID()+1, req.MaxIterations)
	delegate := New(c.log, childState, c.reasoner,
		WithExecutor(c.executor),
		WithCondenser(c.cond, c.budget),
		WithMaxDelegateDepth(c.maxDelegateDepth),
		WithLogger(c.logger),
		withStack(c.stack),
	)
	c.stack.push(delegate)
	runErr := delegate.runToTerminal(ctx)
	c.stack.pop()

	// The delegate's counters were merged into the shared handle when it
	// terminated; returning to Running is the parent's sync point.
	if err := st.Transition(StateRunning); err != nil {
		return appended, err
	}
	if runErr != nil {
		return appended, fmt.Errorf("delegate %s: %w", childState.FrameID, runErr)
	}

	resultID, err := c.append(ctx, eventlog.Event{
		Source: eventlog.SourceEnvironment,
		Kind:   eventlog.KindObservation,
		Body:   fmt.Sprintf("delegate %s: %s after %d steps", childState.FrameID, childState.Lifecycle, childState.LocalIteration),
		Payload: map[string]any{
			"delegate_frame":      childState.FrameID,
			"delegate_state":      string(childState.Lifecycle),
			"delegate_iterations": childState.LocalIteration,
			"delegate_depth":      childState.DelegateDepth,
		},
	})
	if err != nil {
		return appended, err
	}
	return append(appended, resultID), nil
}

// runToTerminal drives a delegate until it reaches a terminal state. A
// delegate cannot wait on the user and is stopped when throttled, so the
// parent always resumes against a settled outcome.
func (c *Controller) runToTerminal(ctx context.Context) error {
	for !c.state.Lifecycle.Terminal() {
		if err := ctx.Err(); err != nil {
			_ = c.state.Transition(StateStopped)
			return err
		}
		res, err := c.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				_ = c.state.Transition(StateStopped)
				return err
			}
			_ = c.state.Transition(StateError)
			return err
		}
		if c.state.Lifecycle == StateAwaitingUserInput || c.state.Lifecycle == StateAwaitingUserConfirmation {
			_ = c.state.Transition(StateStopped)
			return nil
		}
		if res.Throttled && !c.state.Lifecycle.Terminal() {
			_ = c.state.Transition(StateStopped)
			return nil
		}
	}
	return nil
}

// append writes one event into this controller's range, rejecting ids the
// range does not own.
func (c *Controller) append(ctx context.Context, evt eventlog.Event) (int64, error) {
	next := c.log.LatestID() + 1
	if !c.state.InRange(next) {
		return 0, fmt.Errorf("event %d for %s: %w", next, c.state.SessionID, ErrOutOfRange)
	}
	id, err := c.log.Append(ctx, evt)
	if err != nil {
		return 0, err
	}
	c.cache.Invalidate()
	return id, nil
}

func reversed(frames []*Controller) []*Controller {
	out := make([]*Controller, len(frames))
	for i, frame := range frames {
		out[len(frames)-1-i] = frame
	}
	return out
}
