package agent

import (
	"maps"
	"time"

	"github.com/chadiek/hospital-callbot/internal/transcript"
)

// Status is a read-only snapshot of one call.
type Status struct {
	CallID      string         `json:"call_id"`
	Scenario    string         `json:"scenario"`
	State       string         `json:"state"`
	Status      CallStatus     `json:"status"`
	EndReason   string         `json:"end_reason,omitempty"`
	GoalReached bool           `json:"goal_reached"`
	StartedAt   time.Time      `json:"started_at"`
	Elapsed     time.Duration  `json:"elapsed"`
	PatientTurn int            `json:"patient_turns"`
	Transitions map[string]int `json:"transitions"`
}

// Result is what a finished session hands to finalization.
type Result struct {
	Status Status
	// Utterances holds every utterance produced, interims included.
	Utterances []transcript.Utterance
	Events     []Event
	Duration   time.Duration
}

func (s *Session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.state.String()
	st.Transitions = maps.Clone(s.status.Transitions)
	if !st.StartedAt.IsZero() {
		if s.state == Ended {
			st.Elapsed = s.elapsed
		} else {
			st.Elapsed = time.Since(st.StartedAt)
		}
	}
	return st
}

// Status returns the current snapshot. It is safe to call from any goroutine.
func (s *Session) Status() Status { return s.snapshot() }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
