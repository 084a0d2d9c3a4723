package session

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSession() *Session {
	return newSession("sess-1", "call-1", "+15550100", "+15550199", time.Now(), zerolog.Nop())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateInitializing, "INITIALIZING"},
		{StateConnected, "CONNECTED"},
		{StateInProgress, "IN_PROGRESS"},
		{StateEnding, "ENDING"},
		{StateEnded, "ENDED"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_TerminalAndActive(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
		active   bool
	}{
		{StateInitializing, false, true},
		{StateConnected, false, true},
		{StateInProgress, false, true},
		{StateEnding, false, false},
		{StateEnded, true, false},
		{StateFailed, true, false},
	}

	for _, tt := range tests {
		if tt.state.IsTerminal() != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v", tt.state, !tt.terminal)
		}
		if tt.state.IsActive() != tt.active {
			t.Errorf("%s.IsActive() = %v", tt.state, !tt.active)
		}
	}
}

func TestCanTransition_Table(t *testing.T) {
	all := []State{StateInitializing, StateConnected, StateInProgress, StateEnding, StateEnded, StateFailed}
	allowed := map[[2]State]bool{
		{StateInitializing, StateConnected}: true,
		{StateInitializing, StateEnding}:    true,
		{StateInitializing, StateFailed}:    true,
		{StateConnected, StateInProgress}:   true,
		{StateConnected, StateEnding}:       true,
		{StateConnected, StateFailed}:       true,
		{StateInProgress, StateEnding}:      true,
		{StateInProgress, StateFailed}:      true,
		{StateEnding, StateEnded}:           true,
		{StateEnding, StateFailed}:          true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]State{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestSession_IllegalTransitionLeavesState(t *testing.T) {
	s := newTestSession()

	err := s.Transition(StateInProgress)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if !errors.Is(err, ErrIllegalTransition) {
		t.Error("expected error to wrap ErrIllegalTransition")
	}
	if te.From != StateInitializing || te.To != StateInProgress {
		t.Errorf("unexpected error fields: %+v", te)
	}
	if s.State() != StateInitializing {
		t.Errorf("state changed to %s", s.State())
	}
}

func TestSession_FullCycle(t *testing.T) {
	s := newTestSession()

	for _, to := range []State{StateConnected, StateInProgress, StateEnding, StateEnded} {
		if err := s.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	snap := s.Snapshot()
	if snap.State != "ENDED" || snap.IsActive {
		t.Errorf("unexpected snapshot state: %+v", snap)
	}
	if snap.ConnectedAt == nil || snap.EndedAt == nil {
		t.Error("expected connected and ended timestamps")
	}

	if err := s.Transition(StateFailed); err == nil {
		t.Error("expected no transition out of a terminal state")
	}
}

func TestSession_MarkErrorKeepsFirst(t *testing.T) {
	s := newTestSession()

	s.MarkError("stt provider failed")
	s.MarkError("second")

	if !s.HasError() || s.ErrorMessage() != "stt provider failed" {
		t.Errorf("got hasError=%v message=%q", s.HasError(), s.ErrorMessage())
	}
}

func TestSession_EscalateOnce(t *testing.T) {
	s := newTestSession()

	if !s.Escalate("complaint") {
		t.Error("first escalation should report true")
	}
	if s.Escalate("low_confidence") {
		t.Error("second escalation should report false")
	}
	if snap := s.Snapshot(); !snap.ShouldEscalate || snap.EscalationReason != "complaint" {
		t.Errorf("unexpected escalation in snapshot: %+v", snap)
	}
}

func TestSession_TurnIDsAndHistory(t *testing.T) {
	s := newTestSession()

	if id := s.NextTurnID(); id != "call-1-turn-1" {
		t.Errorf("first turn id = %q", id)
	}
	if id := s.NextTurnID(); id != "call-1-turn-2" {
		t.Errorf("second turn id = %q", id)
	}

	s.AddTurn(Turn{Role: RoleCaller, Content: "a table for two"})
	s.AddTurn(Turn{Role: RoleAssistant, Content: "Sure"})

	h := s.History()
	if len(h) != 2 || h[0]["role"] != RoleCaller || h[1]["content"] != "Sure" {
		t.Errorf("unexpected history: %v", h)
	}

	// Snapshot copies are independent of later writes.
	snap := s.Snapshot()
	s.AddTurn(Turn{Role: RoleCaller, Content: "thanks"})
	if len(snap.Turns) != 2 {
		t.Errorf("snapshot changed after write: %d turns", len(snap.Turns))
	}
}

type countingStopper struct{ stops int }

func (c *countingStopper) Stop() error { c.stops++; return nil }

type countingResetter struct{ resets int }

func (c *countingResetter) Reset() { c.resets++ }

type countingCloser struct{ closes int }

func (c *countingCloser) Close() error { c.closes++; return errors.New("already closed") }

func TestSession_ReleaseOnce(t *testing.T) {
	s := newTestSession()
	b, p, c := &countingStopper{}, &countingResetter{}, &countingCloser{}
	s.Attach(Resources{Bridge: b, Processor: p, Socket: c})

	s.release()
	s.release()

	if b.stops != 1 || p.resets != 1 || c.closes != 1 {
		t.Errorf("stops=%d resets=%d closes=%d, want 1 each", b.stops, p.resets, c.closes)
	}
}
