package controller

import (
	"github.com/driftlabs/taskcore/internal/idgen"
	"github.com/driftlabs/taskcore/internal/reason"
)

// State is the per-controller bookkeeping record. It is exclusively owned by
// its controller; only the shared handle crosses delegation boundaries.
type State struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	FrameID   string `json:"frame_id"`

	Lifecycle   Lifecycle `json:"lifecycle"`
	ResumeState Lifecycle `json:"resume_state,omitempty"`

	LocalIteration int64 `json:"local_iteration"`
	MaxIterations  int64 `json:"max_iterations"`

	MaxCostUSD float64 `json:"max_cost_usd,omitempty"`

	DelegateDepth int `json:"delegate_depth"`

	// Log range this controller appends into and reads from. RangeEnd <= 0
	// means unbounded.
	RangeStart int64 `json:"range_start"`
	RangeEnd   int64 `json:"range_end"`

	Budget BudgetState `json:"budget_state"`

	shared *Shared

	// Accumulated since the last merge into the shared handle.
	pendingIterations int64
	pendingMetrics    Metrics
}

type StateOption func(*State)

func WithUserID(userID string) StateOption {
	return func(s *State) { s.UserID = userID }
}

func WithMaxIterations(n int64) StateOption {
	return func(s *State) { s.MaxIterations = n }
}

func WithMaxCost(usd float64) StateOption {
	return func(s *State) { s.MaxCostUSD = usd }
}

// NewState creates the root controller state for a task. The session id may
// be empty, in which case one is generated.
func NewState(sessionID string, opts ...StateOption) *State {
	if sessionID == "" {
		sessionID = idgen.NewSessionID()
	}
	s := &State{
		SessionID:  sessionID,
		FrameID:    idgen.NewFrameID(),
		Lifecycle:  StateLoading,
		RangeStart: 1,
		Budget:     BudgetNormal,
		shared:     NewShared(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewDelegate creates the state for a nested controller. The shared handle
// is the parent's; the local iteration counter starts at zero and the log
// range begins just past the parent's latest append.
func NewDelegate(parent *State, rangeStart int64, maxIterations int64) *State {
	if maxIterations <= 0 {
		maxIterations = parent.MaxIterations
	}
	return &State{
		SessionID:     parent.SessionID,
		UserID:        parent.UserID,
		FrameID:       idgen.NewFrameID(),
		Lifecycle:     StateLoading,
		MaxIterations: maxIterations,
		MaxCostUSD:    parent.MaxCostUSD,
		DelegateDepth: parent.DelegateDepth + 1,
		RangeStart:    rangeStart,
		Budget:        BudgetNormal,
		shared:        parent.shared,
	}
}

// Transition moves the lifecycle to the target state, validating the edge.
func (s *State) Transition(to Lifecycle) error {
	if !canTransition(s.Lifecycle, to) {
		return &TransitionError{SessionID: s.SessionID, From: s.Lifecycle, To: to}
	}
	s.Lifecycle = to
	return nil
}

// Resume restores the lifecycle captured at the last save. Resuming a
// delegating state lands in Running; the delegate stack is rebuilt by
// stepping, not persisted. The captured state was validated as resumable at
// capture time, so the loading hold releases into it directly rather than
// through the transition table, which has no loading edge to the awaiting
// states.
func (s *State) Resume() error {
	if s.Lifecycle != StateLoading || s.ResumeState == "" {
		return &TransitionError{SessionID: s.SessionID, From: s.Lifecycle, To: s.ResumeState}
	}
	target := s.ResumeState
	if target == StateDelegating {
		target = StateRunning
	}
	s.Lifecycle = target
	s.ResumeState = ""
	return nil
}

// Shared exposes the metrics handle; delegates receive it by reference.
func (s *State) Shared() *Shared {
	return s.shared
}

// AttachShared wires a handle onto a state rebuilt from persistence.
func (s *State) AttachShared(sh *Shared) {
	if sh != nil {
		s.shared = sh
	}
}

// GlobalIteration is the tree-wide step count, including steps not yet
// merged at a boundary.
func (s *State) GlobalIteration() int64 {
	return s.shared.GlobalIteration() + s.pendingIterations
}

// Metrics is the tree-wide accumulated usage.
func (s *State) Metrics() Metrics {
	m := s.shared.Metrics()
	m.Add(s.pendingMetrics)
	return m
}

func (s *State) Throttled() bool {
	return s.Budget == BudgetThrottled
}

// InRange reports whether this controller may append an event with the
// given id.
func (s *State) InRange(id int64) bool {
	if id < s.RangeStart {
		return false
	}
	return s.RangeEnd <= 0 || id < s.RangeEnd
}

func (s *State) recordStep() {
	s.LocalIteration++
	s.pendingIterations++
}

func (s *State) recordUsage(u reason.Usage) {
	s.pendingMetrics.Add(metricsFromUsage(u))
}

// syncShared merges pending counters into the shared handle. Called at step
// boundaries only.
func (s *State) syncShared() {
	if s.pendingIterations == 0 && s.pendingMetrics == (Metrics{}) {
		return
	}
	s.shared.Merge(s.pendingIterations, s.pendingMetrics)
	s.pendingIterations = 0
	s.pendingMetrics = Metrics{}
}

// refreshBudget derives the budget state from the configured ceilings.
// Crossing a ceiling throttles; it never errors and never un-throttles.
func (s *State) refreshBudget() {
	if s.Budget == BudgetThrottled {
		return
	}
	if s.MaxIterations > 0 && s.LocalIteration >= s.MaxIterations {
		s.Budget = BudgetThrottled
		return
	}
	if s.MaxCostUSD > 0 && s.Metrics().CostUSD >= s.MaxCostUSD {
		s.Budget = BudgetThrottled
	}
}
