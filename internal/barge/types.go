// Package barge decides when the hospital side has started talking over the
// bot. It fuses two cues: sustained inbound voice energy and new words in
// the running STT hypothesis.
package barge

import "time"

// Config holds the detector thresholds.
type Config struct {
	VoiceRMS      float64       // energy at which a frame counts as speech
	MinSpeech     time.Duration // sustained speech needed before triggering (120–180ms)
	HysteresisOff time.Duration // silence that resets a partial vote (200ms)
	SmoothFrames  int           // majority window of the frame VAD
	ASRTokens     int           // new non-filler words that trigger on their own
}

// Cues indicates which detectors voted for a trigger.
type Cues struct{ Energy, Words bool }

// Trigger is a detected barge-in.
type Trigger struct {
	At   time.Duration
	Cues Cues
}

func DefaultConfig() Config {
	return Config{
		VoiceRMS:      400,
		MinSpeech:     120 * time.Millisecond,
		HysteresisOff: 200 * time.Millisecond,
		SmoothFrames:  3,
		ASRTokens:     1,
	}
}
