// Package stt adapts streaming speech-to-text services to a two-phase event
// stream: interim hypotheses, then a final utterance followed by an explicit
// end-of-utterance signal.
package stt

import (
	"context"
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

// EventKind distinguishes the phases of recognition.
type EventKind int

const (
	// Interim carries a provisional hypothesis for the open speech span.
	Interim EventKind = iota + 1
	// Final carries the terminal text of a speech span.
	Final
	// EndOfUtterance follows Final once silence exceeded the threshold.
	EndOfUtterance
	// Error reports a failed recognition segment.
	Error
)

func (k EventKind) String() string {
	switch k {
	case Interim:
		return "interim"
	case Final:
		return "final"
	case EndOfUtterance:
		return "end_of_utterance"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one recognition outcome. At is the call-clock offset at which it
// was produced.
type Event struct {
	Kind      EventKind
	Utterance transcript.Utterance
	At        time.Duration
	Err       error
	// Fatal is set on an Error after which the stream will close.
	Fatal bool
}

// Recognizer streams inbound frames to a transcription service. The event
// channel is closed when frames is closed, ctx is done, or after a fatal
// Error event.
type Recognizer interface {
	Stream(ctx context.Context, frames <-chan audio.Frame) (<-chan Event, error)
}
