package controller

import (
	"sync"

	"github.com/driftlabs/taskcore/internal/reason"
)

// Metrics accumulates token and cost counters. Counters are monotonically
// non-decreasing; Add ignores negative inputs.
type Metrics struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (m *Metrics) Add(o Metrics) {
	if o.InputTokens > 0 {
		m.InputTokens += o.InputTokens
	}
	if o.OutputTokens > 0 {
		m.OutputTokens += o.OutputTokens
	}
	if o.CostUSD > 0 {
		m.CostUSD += o.CostUSD
	}
}

func metricsFromUsage(u reason.Usage) Metrics {
	return Metrics{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, CostUSD: u.CostUSD}
}

// Shared is the metrics and global-iteration handle a root controller shares
// by reference with every delegate. Controllers accumulate locally during a
// step and merge here only at step boundaries, so a delegate's updates become
// visible to its blocked parent exactly when the delegate terminates.
type Shared struct {
	mu              sync.Mutex
	globalIteration int64
	metrics         Metrics
}

func NewShared() *Shared {
	return &Shared{}
}

// NewSharedFrom seeds a handle with previously persisted totals.
func NewSharedFrom(globalIteration int64, m Metrics) *Shared {
	return &Shared{globalIteration: globalIteration, metrics: m}
}

func (s *Shared) Merge(iterations int64, m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iterations > 0 {
		s.globalIteration += iterations
	}
	s.metrics.Add(m)
}

func (s *Shared) GlobalIteration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalIteration
}

func (s *Shared) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
