// Package transcript models utterances and merges both sides of a call into
// one deterministic, time-ordered transcript.
package transcript

import "time"

// Speaker is the side of the call an utterance is attributed to.
type Speaker string

const (
	// Agent is the hospital's phone agent, human or automated.
	Agent Speaker = "agent"
	// Patient is the synthetic caller driven by the bot.
	Patient Speaker = "patient"
)

// rank orders speakers when start times tie: hospital before patient.
func (s Speaker) rank() int {
	switch s {
	case Agent:
		return 0
	case Patient:
		return 1
	default:
		return 2
	}
}

// Label is the upper-case name used in readable transcripts.
func (s Speaker) Label() string {
	switch s {
	case Agent:
		return "AGENT"
	case Patient:
		return "PATIENT"
	default:
		return "UNKNOWN"
	}
}

// Status tells whether an utterance completed.
type Status string

const (
	// StatusInterim is a provisional STT hypothesis.
	StatusInterim Status = "interim"
	// StatusFinal is a completed utterance.
	StatusFinal Status = "final"
	// StatusPartial is a bot utterance that stopped early without an interruption, e.g. a TTS error.
	StatusPartial Status = "partial"
	// StatusAbandoned is a bot utterance cut off by barge-in.
	StatusAbandoned Status = "abandoned"
)

// Utterance is one contiguous unit of speech by one speaker. Utterances are
// values: a newer hypothesis is a new Utterance whose Supersedes names the
// one it replaces.
type Utterance struct {
	ID         string        `json:"id" msgpack:"id"`
	CallID     string        `json:"call_id" msgpack:"call_id"`
	Speaker    Speaker       `json:"speaker" msgpack:"speaker"`
	Start      time.Duration `json:"start" msgpack:"start"`
	End        time.Duration `json:"end" msgpack:"end"`
	Text       string        `json:"text" msgpack:"text"`
	Status     Status        `json:"status" msgpack:"status"`
	Confidence float64       `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
	Supersedes []string      `json:"supersedes,omitempty" msgpack:"supersedes,omitempty"`
	Uncertain  bool          `json:"uncertain,omitempty" msgpack:"uncertain,omitempty"`
}

// Final reports whether the utterance is no longer subject to revision.
func (u Utterance) Final() bool { return u.Status != StatusInterim }

// Cut reports whether a bot utterance stopped before its text was fully spoken.
func (u Utterance) Cut() bool { return u.Status == StatusAbandoned || u.Status == StatusPartial }
