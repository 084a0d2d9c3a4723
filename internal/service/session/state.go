// Package session holds per-call state and the process-wide call registry.
package session

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a call.
type State int

const (
	// StateInitializing - session created, resources not yet attached.
	StateInitializing State = iota
	// StateConnected - gateway socket and STT stream are wired.
	StateConnected
	// StateInProgress - caller audio or a start message has arrived.
	StateInProgress
	// StateEnding - teardown has been claimed by exactly one caller.
	StateEnding
	// StateEnded - call finished normally. Terminal.
	StateEnded
	// StateFailed - call finished with an error. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateConnected:
		return "CONNECTED"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for ENDED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// IsActive returns true while the call has not started tearing down.
func (s State) IsActive() bool {
	return s == StateInitializing || s == StateConnected || s == StateInProgress
}

// transitions lists every allowed move. Anything absent is illegal.
//
//	INITIALIZING → CONNECTED → IN_PROGRESS → ENDING → ENDED
//	      │            │            │           │
//	      └────────────┴────────────┴───────────┴──→ FAILED
//
// ENDING is reachable from every non-terminal state so that a call can be
// torn down before it ever connected.
var transitions = map[State][]State{
	StateInitializing: {StateConnected, StateEnding, StateFailed},
	StateConnected:    {StateInProgress, StateEnding, StateFailed},
	StateInProgress:   {StateEnding, StateFailed},
	StateEnding:       {StateEnded, StateFailed},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Errors for invalid lifecycle operations.
var (
	ErrIllegalTransition = errors.New("illegal call state transition")
	ErrDuplicateCall     = errors.New("call already has an active session")
	ErrInvalidCallID     = errors.New("call id is required")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionActive     = errors.New("session is still active")
)

// TransitionError describes a rejected transition. The state is unchanged.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s → %s", ErrIllegalTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
