package barge

import (
	"strings"
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// Detector is fed from the session loop only and is not safe for concurrent
// use. It reports nothing while disarmed.
type Detector struct {
	cfg   Config
	armed bool

	vad      *smoothVAD
	votesOn  *voteWindow
	votesOff *voteWindow
	echo     *bloom

	lastTokens int
}

func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.VoiceRMS <= 0 {
		cfg.VoiceRMS = def.VoiceRMS
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = def.MinSpeech
	}
	if cfg.HysteresisOff <= 0 {
		cfg.HysteresisOff = def.HysteresisOff
	}
	if cfg.SmoothFrames <= 0 {
		cfg.SmoothFrames = def.SmoothFrames
	}
	if cfg.ASRTokens <= 0 {
		cfg.ASRTokens = def.ASRTokens
	}
	return &Detector{
		cfg:      cfg,
		vad:      &smoothVAD{threshold: cfg.VoiceRMS, smoothN: cfg.SmoothFrames},
		votesOn:  newVoteWindow(cfg.MinSpeech),
		votesOff: newVoteWindow(cfg.HysteresisOff),
		echo:     newBloom(4096),
	}
}

// Arm starts watching for barge-in while the bot speaks text. Words of text
// heard back in the hospital hypothesis are not counted.
func (d *Detector) Arm(text string) {
	d.Reset()
	d.armed = true
	for _, w := range strings.Fields(strings.ToLower(text)) {
		d.echo.Add(trimWord(w))
	}
}

// Disarm stops detection until the next Arm.
func (d *Detector) Disarm() { d.armed = false }

// Armed reports whether the detector is watching.
func (d *Detector) Armed() bool { return d.armed }

// Reset clears window state.
func (d *Detector) Reset() {
	d.vad.reset()
	d.votesOn.Reset()
	d.votesOff.Reset()
	d.echo.Reset()
	d.lastTokens = 0
}

// Frame feeds one inbound frame. It triggers once speech energy has been
// sustained for MinSpeech.
func (d *Detector) Frame(f audio.Frame) (Trigger, bool) {
	speech := d.vad.isSpeech(f.Samples)
	if !d.armed {
		return Trigger{}, false
	}
	d.votesOn.Push(speech)
	d.votesOff.Push(!speech)
	if d.votesOn.Full() && d.votesOn.Ratio() >= 2.0/3.0 {
		d.votesOn.Reset()
		d.votesOff.Reset()
		return Trigger{At: f.End(), Cues: Cues{Energy: true}}, true
	}
	if d.votesOff.Full() && d.votesOff.Ratio() >= 2.0/3.0 {
		d.votesOn.Reset()
	}
	return Trigger{}, false
}

// Partial feeds the running hospital hypothesis captured at at. Fillers,
// stopwords and echoed bot words do not count.
func (d *Detector) Partial(at time.Duration, text string) (Trigger, bool) {
	if !d.armed {
		return Trigger{}, false
	}
	tokens := strings.Fields(strings.ToLower(text))
	start := d.lastTokens
	if start > len(tokens) {
		// the hypothesis restarted
		start = 0
	}
	d.lastTokens = len(tokens)
	n := 0
	for _, w := range tokens[start:] {
		w = trimWord(w)
		if w == "" || isStopword(w) || d.echo.Contains(w) {
			continue
		}
		n++
		if n >= d.cfg.ASRTokens {
			return Trigger{At: at, Cues: Cues{Words: true}}, true
		}
	}
	return Trigger{}, false
}

func trimWord(w string) string {
	return strings.Trim(w, ".,!?;:\"'()-")
}

func isStopword(s string) bool {
	switch s {
	case "the", "a", "an", "and", "or", "to", "of", "in", "on", "for", "is", "it",
		"uh", "um", "hmm", "mm", "mhm", "uh-huh", "ok", "okay", "yeah", "yes", "right", "sure":
		return true
	}
	return false
}
