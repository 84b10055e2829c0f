package barge

import (
	"math"
	"testing"
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

func sineFrame(seq int, amp float64) audio.Frame {
	s := make([]int16, audio.FrameSamples)
	for i := range s {
		s[i] = int16(amp * math.Sin(2*math.Pi*220*float64(i)/float64(audio.SampleRate)))
	}
	return audio.Frame{Seq: uint32(seq), Timestamp: time.Duration(seq) * audio.FrameDuration, Samples: s}
}

func TestDetector_TriggersOnSustainedSpeech(t *testing.T) {
	d := NewDetector(Config{VoiceRMS: 400, MinSpeech: 120 * time.Millisecond})
	d.Arm("let me check that for you")
	var fired []int
	for i := 0; i < 20; i++ {
		if _, ok := d.Frame(sineFrame(i, 8000)); ok {
			fired = append(fired, i)
		}
	}
	if len(fired) == 0 {
		t.Fatalf("expected trigger")
	}
	// three-frame smoothing plus a six-frame window
	if fired[0] > 8 {
		t.Fatalf("triggered late at frame %d", fired[0])
	}
}

func TestDetector_IgnoresShortBlipsAndSilence(t *testing.T) {
	d := NewDetector(Config{VoiceRMS: 400, MinSpeech: 120 * time.Millisecond})
	d.Arm("hello")
	for i := 0; i < 50; i++ {
		amp := 0.0
		if i%10 == 0 {
			amp = 8000
		}
		if _, ok := d.Frame(sineFrame(i, amp)); ok {
			t.Fatalf("blip at frame %d must not trigger", i)
		}
	}
}

func TestDetector_DisarmedNeverTriggers(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i := 0; i < 30; i++ {
		if _, ok := d.Frame(sineFrame(i, 8000)); ok {
			t.Fatalf("disarmed detector triggered")
		}
	}
	if _, ok := d.Partial(0, "wait a second"); ok {
		t.Fatalf("disarmed detector triggered on words")
	}
}

func TestDetector_Partial(t *testing.T) {
	cases := []struct {
		name    string
		spoken  string
		partial string
		want    bool
	}{
		{"filler", "your appointment is on monday", "um uh okay", false},
		{"echo", "your appointment is on monday", "appointment monday", false},
		{"new words", "your appointment is on monday", "wait", true},
		{"punctuation", "hello", "Sorry,", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(DefaultConfig())
			d.Arm(tc.spoken)
			_, ok := d.Partial(time.Second, tc.partial)
			if ok != tc.want {
				t.Fatalf("Partial(%q) = %v, want %v", tc.partial, ok, tc.want)
			}
		})
	}
}

func TestDetector_PartialCountsOnlyGrowth(t *testing.T) {
	d := NewDetector(Config{ASRTokens: 2})
	d.Arm("")
	if _, ok := d.Partial(0, "hold"); ok {
		t.Fatalf("one word must not trigger with ASRTokens=2")
	}
	if _, ok := d.Partial(0, "hold on"); ok {
		t.Fatalf("growth of one more stopword must not trigger")
	}
	if tr, ok := d.Partial(time.Second, "hold on please wait"); !ok || !tr.Cues.Words || tr.At != time.Second {
		t.Fatalf("expected words trigger, got %+v %v", tr, ok)
	}
}
