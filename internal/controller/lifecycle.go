package controller

import (
	"errors"
	"fmt"
)

type Lifecycle string

const (
	StateLoading                  Lifecycle = "loading"
	StateRunning                  Lifecycle = "running"
	StateAwaitingUserInput        Lifecycle = "awaiting_user_input"
	StateAwaitingUserConfirmation Lifecycle = "awaiting_user_confirmation"
	StateDelegating               Lifecycle = "delegating"
	StateFinished                 Lifecycle = "finished"
	StateError                    Lifecycle = "error"
	StateStopped                  Lifecycle = "stopped"
)

// Terminal reports whether no further transitions are possible.
func (s Lifecycle) Terminal() bool {
	switch s {
	case StateFinished, StateError, StateStopped:
		return true
	}
	return false
}

// Resumable reports whether a restored controller in this state should be
// captured into ResumeState and forced to Loading.
func (s Lifecycle) Resumable() bool {
	switch s {
	case StateRunning, StateAwaitingUserInput, StateAwaitingUserConfirmation, StateDelegating:
		return true
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

type TransitionError struct {
	SessionID string
	From      Lifecycle
	To        Lifecycle
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition for %s: %s -> %s", e.SessionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var transitions = map[Lifecycle][]Lifecycle{
	StateLoading:                  {StateRunning, StateError, StateStopped},
	StateRunning:                  {StateAwaitingUserInput, StateAwaitingUserConfirmation, StateDelegating, StateFinished, StateError, StateStopped},
	StateAwaitingUserInput:        {StateRunning, StateError, StateStopped},
	StateAwaitingUserConfirmation: {StateRunning, StateError, StateStopped},
	StateDelegating:               {StateRunning, StateError, StateStopped},
}

func canTransition(from, to Lifecycle) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type BudgetState string

const (
	BudgetNormal    BudgetState = "normal"
	BudgetThrottled BudgetState = "throttled"
)
