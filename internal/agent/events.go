package agent

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventKind classifies EventLog entries.
type EventKind string

const (
	EventTransition EventKind = "transition"
	EventSTTError   EventKind = "stt_error"
	EventTTSError   EventKind = "tts_error"
	EventLLMError   EventKind = "llm_error"
	EventFallback   EventKind = "llm_fallback"
	EventInterrupt  EventKind = "interrupt"
	EventDispatch   EventKind = "segment_dispatch"
	EventFirstFrame EventKind = "segment_first_frame"
	EventSegmentEnd EventKind = "segment_end"
	EventUtterance  EventKind = "utterance"
)

// Event is one entry of a call's event log. At is on the call clock.
type Event struct {
	At        time.Duration `json:"at" msgpack:"at"`
	Kind      EventKind     `json:"kind" msgpack:"kind"`
	From      string        `json:"from,omitempty" msgpack:"from,omitempty"`
	To        string        `json:"to,omitempty" msgpack:"to,omitempty"`
	Trigger   string        `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
	Segment   uint32        `json:"segment,omitempty" msgpack:"segment,omitempty"`
	Utterance string        `json:"utterance,omitempty" msgpack:"utterance,omitempty"`
	Frames    int           `json:"frames,omitempty" msgpack:"frames,omitempty"`
	Error     string        `json:"error,omitempty" msgpack:"error,omitempty"`
}

// EventLog is append-only. Appends come from the session loop; reads may
// come from anywhere.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *EventLog) Append(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

// Events returns a copy of the log.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Count returns how many events of kind match.
func (l *EventLog) Count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// WriteJSON encodes events as indented JSON.
func WriteJSON(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
