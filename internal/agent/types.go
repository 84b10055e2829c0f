package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chadiek/hospital-callbot/internal/barge"
	"github.com/chadiek/hospital-callbot/internal/bus"
	"github.com/chadiek/hospital-callbot/internal/callerr"
	"github.com/chadiek/hospital-callbot/internal/llm"
	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/stt"
	"github.com/chadiek/hospital-callbot/internal/transcript"
	"github.com/chadiek/hospital-callbot/internal/tts"
)

// State is a turn-taking state.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
	Interrupted
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Thinking:
		return "THINKING"
	case Speaking:
		return "SPEAKING"
	case Interrupted:
		return "INTERRUPTED"
	case Ended:
		return "ENDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransitionKey names a transition in Status.Transitions, e.g. "LISTENING->THINKING".
func TransitionKey(from, to State) string { return from.String() + "->" + to.String() }

// CallStatus is the outcome of a call.
type CallStatus string

const (
	InProgress CallStatus = "in-progress"
	Completed  CallStatus = "completed"
	Failed     CallStatus = "failed"
	TimedOut   CallStatus = "timed-out"
	Aborted    CallStatus = "aborted"
)

// End reasons.
const (
	ReasonHangup      = "hangup"
	ReasonGoalReached = "goal_reached"
	ReasonMaxTurns    = "max_turns"
	ReasonInactivity  = "inactivity"
	ReasonMaxDuration = "max_duration"
	ReasonCancelled   = "cancelled"
	ReasonSTTFailure  = "stt_failure"
	ReasonTTSFailure  = "tts_failure"
	ReasonLLMFailure  = "llm_failure"
)

// GreetingPolicy decides how the session leaves IDLE.
type GreetingPolicy string

const (
	// ListenFirst waits for the first inbound frame.
	ListenFirst GreetingPolicy = "listen"
	// GreetFirst speaks an opening line, then listens.
	GreetFirst GreetingPolicy = "greet"
)

// Responder produces the patient's next line. *llm.Generator implements it.
type Responder interface {
	Next(ctx context.Context, sc scenario.Scenario, t transcript.Transcript, nudge bool) (llm.Reply, error)
}

// SegmentMarker is told when an outbound segment's first frame goes out.
// The recorder implements it to persist TTS pipeline latency.
type SegmentMarker interface {
	MarkSegment(segment uint32, dispatched, firstFrame time.Duration)
}

// Deps are the per-call collaborators of a Session.
type Deps struct {
	Bus         *bus.Bus
	Recognizer  stt.Recognizer
	Generator   Responder
	Synthesizer tts.Synthesizer
	// Segments is optional.
	Segments SegmentMarker
}

// Config tunes a Session.
type Config struct {
	GreetingPolicy    GreetingPolicy
	InactivityTimeout time.Duration
	MaxIdleTurns      int
	MaxCallDuration   time.Duration
	// Retry bounds TTS start retries.
	Retry callerr.Policy
	Barge barge.Config
	// FlushTimeout bounds waiting for trailing STT results after the call ended.
	FlushTimeout time.Duration
	// Epoch anchors the call clock, normally the moment the media stream
	// started so inbound stream timestamps and session times share one
	// timeline. Zero means when Run starts.
	Epoch time.Time
	// Clock returns the call-clock offset. Defaults to time since Epoch.
	Clock  func() time.Duration
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.GreetingPolicy == "" {
		c.GreetingPolicy = ListenFirst
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 8 * time.Second
	}
	if c.MaxIdleTurns <= 0 {
		c.MaxIdleTurns = 3
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 10 * time.Minute
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = callerr.DefaultPolicy
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
