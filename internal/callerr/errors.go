// Package callerr defines the error taxonomy shared by the call engine and
// the bounded retry helper every external adapter goes through.
package callerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks an adapter failure that may succeed on retry.
	ErrTransient = errors.New("transient adapter error")
	// ErrStreamGap marks a frame sequence discontinuity.
	ErrStreamGap = errors.New("stream gap")
	// ErrTerminated marks a remote hangup that interrupted an operation.
	ErrTerminated = errors.New("call terminated")
	// ErrConfiguration marks missing credentials or endpoints.
	ErrConfiguration = errors.New("configuration error")
)

// AdapterError is returned when an STT, TTS or LLM call failed after the
// allowed number of attempts.
type AdapterError struct {
	Adapter  string
	Op       string
	Attempts int
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Adapter, e.Op, e.Attempts, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool { return target == ErrTransient }

// GapError describes a hole in a per-direction sequence. It is recorded and
// tolerated, never fatal.
type GapError struct {
	Direction string
	Expected  uint32
	Got       uint32
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s stream gap: expected seq %d, got %d", e.Direction, e.Expected, e.Got)
}

func (e *GapError) Is(target error) bool { return target == ErrStreamGap }

// Missing reports how many frames the gap skipped.
func (e *GapError) Missing() uint32 {
	if e.Got <= e.Expected {
		return 0
	}
	return e.Got - e.Expected
}

// TerminationError reports that the remote party hung up mid-operation.
type TerminationError struct {
	Reason string
}

func (e *TerminationError) Error() string {
	if e.Reason == "" {
		return "call terminated by remote party"
	}
	return "call terminated by remote party: " + e.Reason
}

func (e *TerminationError) Is(target error) bool { return target == ErrTerminated }

// ConfigError lists the settings that must be provided before calls can be placed.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }
