package stt

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/transcript"
)

// SegmenterConfig tunes end-of-utterance detection.
type SegmenterConfig struct {
	// Silence is the base inactivity window before an utterance is complete.
	Silence time.Duration
	// ContinuationExtension is added when the last word implies the speaker
	// is about to continue ("and", "to", "um").
	ContinuationExtension time.Duration
	// Grace absorbs late hypothesis updates after the silence window.
	Grace time.Duration
	// VoiceRMS is the energy above which a frame counts as speech.
	VoiceRMS float64
}

// DefaultSegmenterConfig keeps the conservative windows that avoid cutting
// a caller off mid-sentence.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Silence:               700 * time.Millisecond,
		ContinuationExtension: 1200 * time.Millisecond,
		Grace:                 250 * time.Millisecond,
		VoiceRMS:              250,
	}
}

// Segmenter turns a stream of full-text hypotheses into interim and final
// utterance events. It is driven entirely by call-clock offsets passed in
// by the caller, which keeps it deterministic.
type Segmenter struct {
	cfg    SegmenterConfig
	callID string
	seq    int

	latest     string
	committed  string
	lastUpdate time.Duration
	lastVoice  time.Duration
	voiceSeen  bool

	spanOpen   bool
	spanStart  time.Duration
	spanEnd    time.Duration
	confidence float64
	interims   []string
	uncertain  bool
}

// NewSegmenter creates a segmenter for one call.
func NewSegmenter(callID string, cfg SegmenterConfig) *Segmenter {
	def := DefaultSegmenterConfig()
	if cfg.Silence <= 0 {
		cfg.Silence = def.Silence
	}
	if cfg.ContinuationExtension < 0 {
		cfg.ContinuationExtension = 0
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.VoiceRMS <= 0 {
		cfg.VoiceRMS = def.VoiceRMS
	}
	return &Segmenter{cfg: cfg, callID: callID}
}

// Voice records the energy of one inbound frame captured at at.
func (s *Segmenter) Voice(at time.Duration, samples []int16) {
	if audio.RMS(samples) >= s.cfg.VoiceRMS {
		s.lastVoice = at
		s.voiceSeen = true
	}
}

// MarkUncertain flags the open span as covering an audio gap.
func (s *Segmenter) MarkUncertain() { s.uncertain = true }

// Update ingests the service's latest full hypothesis. start and end locate
// the audio the hypothesis covers on the call clock; pass negative values
// when unknown. It returns an Interim event when the uncommitted text changed.
func (s *Segmenter) Update(text string, at, start, end time.Duration, confidence float64) (Event, bool) {
	text = strings.TrimSpace(text)
	if text == "" || text == s.latest {
		return Event{}, false
	}
	s.latest = text
	s.lastUpdate = at
	delta := s.delta()
	if delta == "" {
		return Event{}, false
	}
	if !s.spanOpen {
		s.spanOpen = true
		s.spanStart = at
		if start >= 0 {
			s.spanStart = start
		}
		s.interims = s.interims[:0]
	}
	s.spanEnd = at
	if end >= 0 {
		s.spanEnd = end
	}
	s.confidence = confidence

	u := transcript.Utterance{
		ID:         fmt.Sprintf("%s-a%03d-i%02d", s.callID, s.seq+1, len(s.interims)+1),
		CallID:     s.callID,
		Speaker:    transcript.Agent,
		Start:      s.spanStart,
		End:        s.spanEnd,
		Text:       delta,
		Status:     transcript.StatusInterim,
		Confidence: confidence,
		Uncertain:  s.uncertain,
	}
	s.interims = append(s.interims, u.ID)
	return Event{Kind: Interim, Utterance: u, At: at}, true
}

// Tick checks for end of utterance at now. When the open span has been
// inactive long enough it returns the Final event followed by EndOfUtterance.
func (s *Segmenter) Tick(now time.Duration) []Event {
	if !s.spanOpen {
		return nil
	}
	threshold := s.cfg.Silence
	if isContinuationLikely(s.latest) {
		threshold += s.cfg.ContinuationExtension
	}
	if now-s.lastUpdate < threshold+s.cfg.Grace {
		return nil
	}
	if s.voiceSeen && s.lastVoice > s.lastUpdate && now-s.lastVoice < threshold {
		return nil
	}
	return s.commit(now)
}

// Flush finalizes any open span regardless of silence, e.g. at hangup.
func (s *Segmenter) Flush(now time.Duration) []Event {
	if !s.spanOpen {
		return nil
	}
	return s.commit(now)
}

func (s *Segmenter) commit(now time.Duration) []Event {
	delta := s.delta()
	s.committed = s.latest
	s.spanOpen = false
	uncertain := s.uncertain
	s.uncertain = false
	if delta == "" {
		return nil
	}
	s.seq++
	f := transcript.Utterance{
		ID:         fmt.Sprintf("%s-a%03d", s.callID, s.seq),
		CallID:     s.callID,
		Speaker:    transcript.Agent,
		Start:      s.spanStart,
		End:        s.spanEnd,
		Text:       delta,
		Status:     transcript.StatusFinal,
		Confidence: s.confidence,
		Supersedes: append([]string(nil), s.interims...),
		Uncertain:  uncertain,
	}
	s.interims = s.interims[:0]
	return []Event{
		{Kind: Final, Utterance: f, At: now},
		{Kind: EndOfUtterance, Utterance: f, At: now},
	}
}

// delta is the part of the latest hypothesis that has not been committed.
func (s *Segmenter) delta() string {
	latest, base := s.latest, s.committed
	if base == "" {
		return latest
	}
	if strings.HasPrefix(latest, base) {
		return strings.TrimSpace(latest[len(base):])
	}
	if idx := strings.LastIndex(latest, base); idx >= 0 {
		return strings.TrimSpace(latest[idx+len(base):])
	}
	// a new turn: the service restarted its hypothesis
	return latest
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// Coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// Subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// Discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// Prepositions that are awkward sentence endings
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
