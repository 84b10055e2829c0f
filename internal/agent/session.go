// Package agent runs the turn-taking state machine of one call: it listens
// to the hospital side through STT, asks the generator for the patient's
// reply, speaks it through TTS and yields the floor on barge-in.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/barge"
	"github.com/chadiek/hospital-callbot/internal/bus"
	"github.com/chadiek/hospital-callbot/internal/llm"
	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/stt"
	"github.com/chadiek/hospital-callbot/internal/transcript"
	"github.com/chadiek/hospital-callbot/internal/tts"
)

// sttBuffer is how many inbound frames may queue for STT (about 10s).
const sttBuffer = 512

// Session orchestrates STT -> generator -> TTS for a single call. Every
// state change happens on the goroutine running Run.
type Session struct {
	callID string
	sc     scenario.Scenario
	deps   Deps
	cfg    Config
	log    *slog.Logger
	events EventLog

	mu      sync.Mutex
	state   State
	status  Status
	elapsed time.Duration
}

// NewSession constructs a new Session.
func NewSession(callID string, sc scenario.Scenario, deps Deps, cfg Config) *Session {
	cfg.defaults()
	return &Session{
		callID: callID,
		sc:     sc,
		deps:   deps,
		cfg:    cfg,
		log:    cfg.Logger.With("call_id", callID, "component", "session"),
		state:  Idle,
		status: Status{
			CallID:      callID,
			Scenario:    sc.ID,
			Status:      InProgress,
			Transitions: map[string]int{},
		},
	}
}

// CallID returns the call the session drives.
func (s *Session) CallID() string { return s.callID }

// Events exposes the append-only event log.
func (s *Session) Events() *EventLog { return &s.events }

type genResult struct {
	reply llm.Reply
	err   error
}

// speech is the bot utterance in flight.
type speech struct {
	stream     *tts.Stream
	utt        transcript.Utterance
	segment    uint32
	dispatched time.Duration
	first      time.Duration
	frames     int
	greeting   bool
	endCall    bool
	goal       bool
}

func (sp *speech) end() time.Duration {
	if sp.frames == 0 {
		return sp.dispatched
	}
	return sp.first + time.Duration(sp.frames)*audio.FrameDuration
}

// loop holds the state owned by Run.
type loop struct {
	s   *Session
	ctx context.Context
	now func() time.Duration

	sttIn      chan audio.Frame
	sttEv      <-chan stt.Event
	sttDropped int

	genCh     chan genResult
	genCancel context.CancelFunc

	inactivity *time.Timer
	idleTurns  int
	// finals that arrived outside LISTENING, one THINKING each
	pending []transcript.Utterance

	utterances []transcript.Utterance
	detector   *barge.Detector
	speech     *speech
	segment    uint32
}

// Run drives the call until it ends and returns what finalization needs. It
// closes the bus on return. Run never returns an error: failures end the
// call with a terminal status instead.
func (s *Session) Run(ctx context.Context) Result {
	started := s.cfg.Epoch
	if started.IsZero() {
		started = time.Now()
	}
	now := s.cfg.Clock
	if now == nil {
		now = func() time.Duration { return time.Since(started) }
	}
	s.mu.Lock()
	s.status.StartedAt = started
	s.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.deps.Bus.Close()

	l := &loop{
		s:          s,
		ctx:        callCtx,
		now:        now,
		sttIn:      make(chan audio.Frame, sttBuffer),
		inactivity: time.NewTimer(s.cfg.InactivityTimeout),
		detector:   barge.NewDetector(s.cfg.Barge),
	}
	l.inactivity.Stop()
	s.log.Info("session started", "scenario", s.sc.ID, "greeting", s.cfg.GreetingPolicy)

	l.run()
	l.drainSTT()

	elapsed := now()
	s.mu.Lock()
	s.elapsed = elapsed
	s.mu.Unlock()
	return Result{
		Status:     s.snapshot(),
		Utterances: l.utterances,
		Events:     s.events.Events(),
		Duration:   elapsed,
	}
}

func (l *loop) state() State {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.state
}

func (l *loop) run() {
	cfg := l.s.cfg
	events, err := l.s.deps.Recognizer.Stream(l.ctx, l.sttIn)
	if err != nil {
		l.s.log.Error("stt stream failed to start", "err", err)
		l.s.events.Append(Event{At: l.now(), Kind: EventSTTError, Error: err.Error()})
		l.end(Failed, ReasonSTTFailure, false)
		return
	}
	l.sttEv = events

	ceiling := time.NewTimer(cfg.MaxCallDuration)
	defer ceiling.Stop()
	pacer := time.NewTicker(audio.FrameDuration)
	defer pacer.Stop()
	defer l.inactivity.Stop()

	if cfg.GreetingPolicy == GreetFirst {
		l.greet()
	}

	inbound := l.s.deps.Bus.Inbound()
	for l.state() != Ended {
		var pace <-chan time.Time
		if l.speech != nil {
			pace = pacer.C
		}
		var idle <-chan time.Time
		if l.state() == Listening {
			idle = l.inactivity.C
		}

		select {
		case <-l.ctx.Done():
			l.end(Aborted, ReasonCancelled, false)
		case <-ceiling.C:
			l.end(TimedOut, ReasonMaxDuration, false)
		case f, ok := <-inbound:
			if !ok {
				inbound = nil
				l.end(Completed, ReasonHangup, false)
				continue
			}
			l.onFrame(f)
		case ev, ok := <-l.sttEv:
			if !ok {
				l.sttEv = nil
				l.s.log.Error("stt stream closed unexpectedly")
				l.end(Failed, ReasonSTTFailure, false)
				continue
			}
			l.onSTT(ev)
		case r := <-l.genCh:
			l.onReply(r)
		case <-pace:
			l.onPace()
		case <-idle:
			l.onInactivity()
		}
	}
}

func (l *loop) transition(to State, trigger string) {
	l.s.mu.Lock()
	from := l.s.state
	l.s.state = to
	l.s.status.Transitions[TransitionKey(from, to)]++
	l.s.mu.Unlock()

	l.s.events.Append(Event{At: l.now(), Kind: EventTransition, From: from.String(), To: to.String(), Trigger: trigger})
	l.s.log.Debug("transition", "from", from.String(), "to", to.String(), "trigger", trigger)
	if to == Listening {
		l.inactivity.Reset(l.s.cfg.InactivityTimeout)
	} else {
		l.inactivity.Stop()
	}
}

func (l *loop) enterListening(trigger string) {
	l.transition(Listening, trigger)
	if len(l.pending) > 0 {
		u := l.pending[0]
		l.pending = l.pending[1:]
		l.think(u.ID, false)
	}
}

func (l *loop) think(trigger string, nudge bool) {
	l.transition(Thinking, trigger)
	l.generate(nudge)
}

func (l *loop) generate(nudge bool) {
	t := transcript.Assemble(l.utterances)
	gctx, cancel := context.WithCancel(l.ctx)
	ch := make(chan genResult, 1)
	l.genCh, l.genCancel = ch, cancel
	gen, sc := l.s.deps.Generator, l.s.sc
	go func() {
		r, err := gen.Next(gctx, sc, t, nudge)
		ch <- genResult{reply: r, err: err}
	}()
}

func (l *loop) greet() {
	if opening := strings.TrimSpace(l.s.sc.Opening); opening != "" {
		l.speak(llm.Reply{Text: opening})
		return
	}
	l.generate(false)
}

func (l *loop) onFrame(f audio.Frame) {
	if l.state() == Idle && l.s.cfg.GreetingPolicy == ListenFirst {
		l.enterListening("first_frame")
	}
	select {
	case l.sttIn <- f:
	default:
		l.sttDropped++
		if l.sttDropped == 1 || l.sttDropped%50 == 0 {
			l.s.log.Warn("stt lagging, frame not forwarded", "dropped", l.sttDropped)
		}
	}
	if tr, ok := l.detector.Frame(f); ok && l.speech != nil {
		l.interrupt(tr)
	}
}

func (l *loop) onSTT(ev stt.Event) {
	switch ev.Kind {
	case stt.Interim:
		l.utterances = append(l.utterances, ev.Utterance)
		if l.speech != nil {
			if tr, ok := l.detector.Partial(ev.At, ev.Utterance.Text); ok {
				l.interrupt(tr)
			}
		}
	case stt.Final:
		u := ev.Utterance
		l.utterances = append(l.utterances, u)
		l.s.events.Append(Event{At: ev.At, Kind: EventUtterance, Utterance: u.ID})
		l.idleTurns = 0
		if l.speech != nil {
			if tr, ok := l.detector.Partial(ev.At, u.Text); ok {
				l.interrupt(tr)
			}
		}
		if l.state() == Listening {
			l.think(u.ID, false)
		} else {
			l.pending = append(l.pending, u)
		}
	case stt.EndOfUtterance:
		l.s.log.Debug("end of utterance", "utterance", ev.Utterance.ID)
	case stt.Error:
		msg := "unknown"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		l.s.events.Append(Event{At: ev.At, Kind: EventSTTError, Error: msg})
		if ev.Fatal {
			l.s.log.Error("stt failed", "err", ev.Err)
			l.end(Failed, ReasonSTTFailure, false)
			return
		}
		l.s.log.Warn("stt segment failed", "err", ev.Err)
	}
}

func (l *loop) onReply(r genResult) {
	l.genCh = nil
	l.genCancel()
	if r.err != nil {
		if l.ctx.Err() != nil {
			return
		}
		l.s.log.Error("generator failed", "err", r.err)
		l.s.events.Append(Event{At: l.now(), Kind: EventLLMError, Error: r.err.Error()})
		l.end(Failed, ReasonLLMFailure, false)
		return
	}
	reply := r.reply
	if reply.Fallback {
		l.s.events.Append(Event{At: l.now(), Kind: EventFallback})
	}
	if strings.TrimSpace(reply.Text) == "" {
		if reply.EndCall {
			l.end(Completed, endReason(reply), reply.GoalReached)
			return
		}
		l.enterListening("empty_reply")
		return
	}
	l.speak(reply)
}

func endReason(r llm.Reply) string {
	if r.GoalReached {
		return ReasonGoalReached
	}
	return ReasonMaxTurns
}

func (l *loop) speak(reply llm.Reply) {
	l.segment++
	at := l.now()
	greeting := l.state() == Idle
	sp := &speech{
		stream:     tts.Start(l.ctx, l.s.deps.Synthesizer, reply.Text, l.s.cfg.Retry),
		segment:    l.segment,
		dispatched: at,
		greeting:   greeting,
		endCall:    reply.EndCall,
		goal:       reply.GoalReached,
		utt: transcript.Utterance{
			ID:      fmt.Sprintf("%s-p%03d", l.s.callID, l.segment),
			CallID:  l.s.callID,
			Speaker: transcript.Patient,
			Start:   at,
			End:     at,
			Text:    reply.Text,
			Status:  transcript.StatusFinal,
		},
	}
	l.speech = sp
	l.s.mu.Lock()
	l.s.status.PatientTurn++
	l.s.mu.Unlock()
	l.s.events.Append(Event{At: at, Kind: EventDispatch, Segment: sp.segment, Utterance: sp.utt.ID})
	l.s.log.Info("patient says", "segment", sp.segment, "text", reply.Text, "fallback", reply.Fallback)
	if greeting {
		// the greeting is not interruptible
		return
	}
	l.transition(Speaking, "reply")
	l.detector.Arm(reply.Text)
}

func (l *loop) onPace() {
	sp := l.speech
	samples, st := sp.stream.Poll()
	switch st {
	case tts.Pending:
		return
	case tts.Done:
		l.finishSpeech()
		return
	}
	if sp.frames == 0 {
		sp.first = l.now()
		if m := l.s.deps.Segments; m != nil {
			m.MarkSegment(sp.segment, sp.dispatched, sp.first)
		}
		l.s.events.Append(Event{At: sp.first, Kind: EventFirstFrame, Segment: sp.segment, Utterance: sp.utt.ID})
	}
	f := audio.Frame{
		Segment:   sp.segment,
		Timestamp: sp.first + time.Duration(sp.frames)*audio.FrameDuration,
		Samples:   samples,
	}
	if _, err := l.s.deps.Bus.PublishOutbound(l.ctx, f); err != nil {
		if !errors.Is(err, bus.ErrClosed) && l.ctx.Err() == nil {
			l.s.log.Warn("outbound publish failed", "err", err)
		}
		return
	}
	sp.frames++
}

func (l *loop) finishSpeech() {
	sp := l.speech
	l.speech = nil
	l.detector.Disarm()
	if err := sp.stream.Err(); err != nil {
		l.s.events.Append(Event{At: l.now(), Kind: EventTTSError, Segment: sp.segment, Error: err.Error()})
		if sp.frames == 0 {
			l.s.log.Error("tts failed", "segment", sp.segment, "err", err)
			l.end(Failed, ReasonTTSFailure, false)
			return
		}
		l.s.log.Warn("tts stopped early", "segment", sp.segment, "frames", sp.frames, "err", err)
		sp.utt.Status = transcript.StatusPartial
	}
	sp.utt.End = sp.end()
	l.utterances = append(l.utterances, sp.utt)
	l.s.events.Append(Event{At: l.now(), Kind: EventSegmentEnd, Segment: sp.segment, Utterance: sp.utt.ID, Frames: sp.frames})

	if sp.endCall {
		reason := ReasonMaxTurns
		if sp.goal {
			reason = ReasonGoalReached
		}
		l.end(Completed, reason, sp.goal)
		return
	}
	if sp.greeting {
		l.enterListening("greeting_done")
		return
	}
	l.enterListening("spoken")
}

// interrupt yields the floor: the stream is cancelled and the transport told
// to drop queued audio before anything else runs on the loop.
func (l *loop) interrupt(tr barge.Trigger) {
	sp := l.speech
	sp.stream.Cancel()
	l.speech = nil
	l.s.deps.Bus.Clear()
	l.detector.Disarm()

	at := l.now()
	cue := "energy"
	if tr.Cues.Words {
		cue = "words"
	}
	sp.utt.Status = transcript.StatusAbandoned
	sp.utt.End = at
	if sp.frames == 0 {
		sp.utt.End = sp.utt.Start
	}
	l.utterances = append(l.utterances, sp.utt)
	l.s.events.Append(Event{At: at, Kind: EventInterrupt, Segment: sp.segment, Utterance: sp.utt.ID, Frames: sp.frames, Trigger: cue})
	l.s.log.Info("barge-in", "segment", sp.segment, "frames", sp.frames, "cue", cue)

	l.transition(Interrupted, cue)
	l.enterListening("interrupted")
}

func (l *loop) onInactivity() {
	if l.idleTurns >= l.s.cfg.MaxIdleTurns {
		l.s.log.Info("hospital side silent, giving up", "nudges", l.idleTurns)
		l.end(TimedOut, ReasonInactivity, false)
		return
	}
	l.idleTurns++
	l.think("inactivity", true)
}

func (l *loop) end(status CallStatus, reason string, goal bool) {
	if l.state() == Ended {
		return
	}
	if sp := l.speech; sp != nil {
		sp.stream.Cancel()
		l.speech = nil
		l.s.deps.Bus.Clear()
		if sp.frames > 0 {
			sp.utt.Status = transcript.StatusPartial
			sp.utt.End = sp.end()
			l.utterances = append(l.utterances, sp.utt)
		}
		l.s.events.Append(Event{At: l.now(), Kind: EventSegmentEnd, Segment: sp.segment, Utterance: sp.utt.ID, Frames: sp.frames})
	}
	if l.genCh != nil {
		l.genCancel()
		l.genCh = nil
	}
	l.s.mu.Lock()
	l.s.status.Status = status
	l.s.status.EndReason = reason
	l.s.status.GoalReached = goal
	l.s.mu.Unlock()
	l.transition(Ended, reason)
	l.s.log.Info("session ended", "status", status, "reason", reason, "goal_reached", goal)
}

// drainSTT closes the STT input and keeps the utterances the service still
// flushes out, without further transitions.
func (l *loop) drainSTT() {
	close(l.sttIn)
	if l.sttEv == nil {
		return
	}
	timer := time.NewTimer(l.s.cfg.FlushTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-l.sttEv:
			if !ok {
				return
			}
			switch ev.Kind {
			case stt.Interim:
				l.utterances = append(l.utterances, ev.Utterance)
			case stt.Final:
				l.utterances = append(l.utterances, ev.Utterance)
				l.s.events.Append(Event{At: ev.At, Kind: EventUtterance, Utterance: ev.Utterance.ID})
			case stt.Error:
				if ev.Err != nil {
					l.s.events.Append(Event{At: ev.At, Kind: EventSTTError, Error: ev.Err.Error()})
				}
			}
		case <-timer.C:
			l.s.log.Warn("stt did not flush in time")
			return
		}
	}
}
