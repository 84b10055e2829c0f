// Package analyzer detects quality defects in finished calls and
// aggregates them into a batch bug report.
package analyzer

import (
	"encoding/json"
	"io"
	"time"
)

// Kind is the issue taxonomy.
type Kind string

const (
	ExcessiveLatency      Kind = "excessive_latency"
	UnhandledInterruption Kind = "unhandled_interruption"
	SilenceStall          Kind = "silence_stall"
	STTFailure            Kind = "stt_failure"
	GoalNotCompleted      Kind = "goal_not_completed"

	// Kinds only the LLM reviewer produces.
	Hallucination         Kind = "hallucination"
	Misunderstanding      Kind = "misunderstanding"
	UnnaturalPhrasing     Kind = "unnatural_phrasing"
	InappropriateResponse Kind = "inappropriate_response"
	Repetition            Kind = "repetition"
	Confusion             Kind = "confusion"
)

// Severity of an issue.
type Severity string

const (
	Low    Severity = "low"
	Medium Severity = "medium"
	High   Severity = "high"
)

func (s Severity) valid() bool { return s == Low || s == Medium || s == High }

// Evidence points at what the issue was derived from.
type Evidence struct {
	UtteranceIDs []string        `json:"utterance_ids,omitempty" msgpack:"utterance_ids,omitempty"`
	Offsets      []time.Duration `json:"offsets,omitempty" msgpack:"offsets,omitempty"`
}

// Issue is one detected defect. Issues are values and never modified once
// produced.
type Issue struct {
	ID          string        `json:"id" msgpack:"id"`
	CallID      string        `json:"call_id" msgpack:"call_id"`
	Kind        Kind          `json:"kind" msgpack:"kind"`
	Severity    Severity      `json:"severity" msgpack:"severity"`
	Start       time.Duration `json:"start" msgpack:"start"`
	End         time.Duration `json:"end" msgpack:"end"`
	Evidence    Evidence      `json:"evidence" msgpack:"evidence"`
	Quote       string        `json:"quote,omitempty" msgpack:"quote,omitempty"`
	Description string        `json:"description" msgpack:"description"`
}

// WriteJSON encodes issues as indented JSON (issues.json).
func WriteJSON(w io.Writer, issues []Issue) error {
	if issues == nil {
		issues = []Issue{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(issues)
}
