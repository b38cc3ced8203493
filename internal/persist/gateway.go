// Package persist serializes controller state across process lifetimes.
// The blob is a versioned, explicit schema: transient fields (cached views,
// the shared handle, open connections) are never written, and blobs whose
// version is not understood are rejected before any state is returned. The
// event log persists independently, one durable row per event, and is not
// embedded here.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driftlabs/taskcore/internal/controller"
	"github.com/driftlabs/taskcore/internal/store"
)

// Version is the current blob schema version.
const Version = 1

var ErrVersionMismatch = errors.New("unsupported controller state version")

type VersionError struct {
	Got int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("controller state version %d not supported (current %d)", e.Got, Version)
}

func (e *VersionError) Unwrap() error {
	return ErrVersionMismatch
}

type blob struct {
	Version int `json:"version"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	FrameID   string `json:"frame_id"`

	Lifecycle   controller.Lifecycle `json:"lifecycle"`
	ResumeState controller.Lifecycle `json:"resume_state,omitempty"`

	GlobalIteration int64             `json:"global_iteration"`
	LocalIteration  int64             `json:"local_iteration"`
	MaxIterations   int64             `json:"max_iterations"`
	MaxCostUSD      float64           `json:"max_cost_usd,omitempty"`
	Metrics         controller.Metrics `json:"metrics"`

	DelegateDepth int   `json:"delegate_depth"`
	RangeStart    int64 `json:"range_start"`
	RangeEnd      int64 `json:"range_end"`

	Budget controller.BudgetState `json:"budget_state"`

	SavedAt time.Time `json:"saved_at"`
}

// Encode serializes a controller state into a portable blob.
func Encode(st *controller.State) ([]byte, error) {
	b := blob{
		Version:         Version,
		SessionID:       st.SessionID,
		UserID:          st.UserID,
		FrameID:         st.FrameID,
		Lifecycle:       st.Lifecycle,
		ResumeState:     st.ResumeState,
		GlobalIteration: st.GlobalIteration(),
		LocalIteration:  st.LocalIteration,
		MaxIterations:   st.MaxIterations,
		MaxCostUSD:      st.MaxCostUSD,
		Metrics:         st.Metrics(),
		DelegateDepth:   st.DelegateDepth,
		RangeStart:      st.RangeStart,
		RangeEnd:        st.RangeEnd,
		Budget:          st.Budget,
		SavedAt:         time.Now().UTC(),
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode controller state: %w", err)
	}
	return data, nil
}

// Decode deserializes a blob, rejecting unknown versions, and applies the
// resumable-state capture: a resumable lifecycle is copied into ResumeState
// and the live state forced to Loading until the caller resumes. The
// returned state's history is re-derived from the separately persisted
// event log, never from the blob.
func Decode(data []byte) (*controller.State, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode controller state: %w", err)
	}
	if probe.Version != Version {
		return nil, &VersionError{Got: probe.Version}
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode controller state: %w", err)
	}

	st := &controller.State{
		SessionID:      b.SessionID,
		UserID:         b.UserID,
		FrameID:        b.FrameID,
		Lifecycle:      b.Lifecycle,
		LocalIteration: b.LocalIteration,
		MaxIterations:  b.MaxIterations,
		MaxCostUSD:     b.MaxCostUSD,
		DelegateDepth:  b.DelegateDepth,
		RangeStart:     b.RangeStart,
		RangeEnd:       b.RangeEnd,
		Budget:         b.Budget,
	}
	st.AttachShared(controller.NewSharedFrom(b.GlobalIteration, b.Metrics))

	if st.Lifecycle.Resumable() {
		st.ResumeState = st.Lifecycle
		st.Lifecycle = controller.StateLoading
	} else {
		st.ResumeState = ""
	}
	return st, nil
}

// Gateway stores controller-state blobs keyed by (session_id, user_id).
type Gateway struct {
	store *store.Store
}

func NewGateway(s *store.Store) *Gateway {
	return &Gateway{store: s}
}

func (g *Gateway) Save(ctx context.Context, st *controller.State) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	if err := g.store.PutStateBlob(ctx, st.SessionID, st.UserID, data); err != nil {
		return fmt.Errorf("save controller state %s: %w", st.SessionID, err)
	}
	return nil
}

func (g *Gateway) Restore(ctx context.Context, sessionID, userID string) (*controller.State, error) {
	data, err := g.store.GetStateBlob(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("restore controller state %s: %w", sessionID, err)
	}
	return Decode(data)
}
