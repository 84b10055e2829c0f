// Package audio holds the telephony audio primitives shared by every
// per-call component: timestamped frames, PCM helpers, the μ-law codec
// and WAV rendering.
package audio

import (
	"fmt"
	"time"
)

const (
	// SampleRate is the telephony sample rate used end to end.
	SampleRate = 8000
	// FrameDuration is the fixed duration of one frame on the bus.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is the number of 16-bit samples in one frame.
	FrameSamples = SampleRate * int(FrameDuration/time.Millisecond) / 1000
)

// Direction tells which side of the call produced a frame.
type Direction uint8

const (
	// Inbound frames come from the hospital side.
	Inbound Direction = iota + 1
	// Outbound frames are synthesized by the patient bot.
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Frame is a fixed-duration chunk of PCM samples.
//
// Timestamp is the capture offset on the call clock, not wall time.
// Segment identifies the outbound utterance that produced the frame and is
// zero for inbound audio.
type Frame struct {
	CallID    string        `msgpack:"c"`
	Direction Direction     `msgpack:"d"`
	Seq       uint32        `msgpack:"q"`
	Timestamp time.Duration `msgpack:"t"`
	Segment   uint32        `msgpack:"g,omitempty"`
	Samples   []int16       `msgpack:"s"`
}

// End returns the call-clock instant right after the frame's last sample.
func (f Frame) End() time.Duration {
	return f.Timestamp + SamplesDuration(len(f.Samples))
}

// SamplesDuration converts a sample count at SampleRate to a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// SampleOffset converts a call-clock offset to a sample index at SampleRate.
// Negative offsets clamp to zero.
func SampleOffset(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d * SampleRate / time.Second)
}
