package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/callerr"
)

// DefaultAssemblyAIURL is the v3 realtime streaming endpoint.
const DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// The service rejects chunks shorter than 50ms, so frames are batched.
const chunkFrames = 3

// Gaps longer than this are not back-filled with silence.
const maxGapFill = 50

var (
	errSessionEnded  = errors.New("assemblyai: session terminated by service")
	errReaderStopped = errors.New("assemblyai: reader stopped")
)

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type                string  `json:"type"`
	TurnOrder           int     `json:"turn_order"`
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	TurnFormatted       bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
	AudioStartTime      int64   `json:"audio_start_time,omitempty"`
	AudioEndTime        int64   `json:"audio_end_time,omitempty"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// AssemblyAI streams μ-law audio to AssemblyAI's realtime API.
type AssemblyAI struct {
	apiKey  string
	url     string
	dialer  *websocket.Dialer
	policy  callerr.Policy
	segCfg  SegmenterConfig
	logger  *slog.Logger
	callID  string
	timeout time.Duration
}

// Option configures the AssemblyAI adapter.
type Option func(*AssemblyAI)

// WithURL overrides the streaming endpoint (tests, regional endpoints).
func WithURL(u string) Option { return func(a *AssemblyAI) { a.url = u } }

// WithRetry sets the connect and reconnect policy.
func WithRetry(p callerr.Policy) Option { return func(a *AssemblyAI) { a.policy = p } }

// WithSegmenter sets the end-of-utterance windows.
func WithSegmenter(c SegmenterConfig) Option { return func(a *AssemblyAI) { a.segCfg = c } }

// WithLogger sets the logger; the adapter adds its own component attribute.
func WithLogger(l *slog.Logger) Option { return func(a *AssemblyAI) { a.logger = l } }

// WithCallID labels utterance ids with the call they belong to.
func WithCallID(id string) Option { return func(a *AssemblyAI) { a.callID = id } }

// NewAssemblyAI creates the adapter. It does not connect until Stream.
func NewAssemblyAI(apiKey string, opts ...Option) *AssemblyAI {
	a := &AssemblyAI{
		apiKey:  apiKey,
		url:     DefaultAssemblyAIURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		policy:  callerr.DefaultPolicy,
		segCfg:  DefaultSegmenterConfig(),
		logger:  slog.Default(),
		timeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "stt")
	return a
}

// Stream connects (with bounded retries) and starts forwarding frames.
func (a *AssemblyAI) Stream(ctx context.Context, frames <-chan audio.Frame) (<-chan Event, error) {
	if a.apiKey == "" {
		return nil, &callerr.ConfigError{Missing: []string{"ASSEMBLYAI_API_KEY"}}
	}
	conn, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	events := make(chan Event, 64)
	s := &assemblySession{
		a:      a,
		conn:   conn,
		seg:    NewSegmenter(a.callID, a.segCfg),
		events: events,
		log:    a.logger,
	}
	go s.run(ctx, frames)
	return events, nil
}

func (a *AssemblyAI) connect(ctx context.Context) (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("sample_rate", fmt.Sprint(audio.SampleRate))
	params.Set("encoding", "pcm_mulaw")
	params.Set("format_turns", "false")
	wsURL := a.url + "?" + params.Encode()

	headers := http.Header{}
	headers.Set("Authorization", a.apiKey)

	var conn *websocket.Conn
	err := callerr.Retry(ctx, a.policy, "stt", "connect", func(ctx context.Context) error {
		c, resp, err := a.dialer.DialContext(ctx, wsURL, headers)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return callerr.Permanent(fmt.Errorf("assemblyai rejected credentials: status %d", resp.StatusCode))
			}
			a.logger.Warn("assemblyai connect failed", "err", err)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("connected to assemblyai", "url", a.url)
	return conn, nil
}

type assemblySession struct {
	a      *AssemblyAI
	conn   *websocket.Conn
	seg    *Segmenter
	events chan Event
	log    *slog.Logger

	lastSeq  uint32
	haveSeq  bool
	chunk    []int16
	clock    time.Duration
	turnBase time.Duration
}

type readResult struct {
	turn *TurnMessage
	err  error
}

func (s *assemblySession) run(ctx context.Context, frames <-chan audio.Frame) {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic in stt stream", "panic", r)
		}
	}()

	reads := s.startReader(s.conn)
	for {
		select {
		case <-ctx.Done():
			s.terminate(false)
			return
		case f, ok := <-frames:
			if !ok {
				s.terminate(true)
				s.emitAll(ctx, s.seg.Flush(s.clock))
				return
			}
			if err := s.forward(f); err != nil {
				if !s.reconnect(ctx, err, &reads) {
					return
				}
			}
			s.emitAll(ctx, s.seg.Tick(s.clock))
		case r, ok := <-reads:
			if !ok {
				r.err = errReaderStopped
			}
			if r.err != nil {
				if !s.reconnect(ctx, r.err, &reads) {
					return
				}
				continue
			}
			start, end := time.Duration(-1), time.Duration(-1)
			if r.turn.AudioStartTime > 0 || r.turn.AudioEndTime > 0 {
				start = s.turnBase + time.Duration(r.turn.AudioStartTime)*time.Millisecond
				end = s.turnBase + time.Duration(r.turn.AudioEndTime)*time.Millisecond
			}
			if ev, ok := s.seg.Update(r.turn.Transcript, s.clock, start, end, r.turn.EndOfTurnConfidence); ok {
				s.emit(ctx, ev)
			}
		}
	}
}

// forward back-fills sequence gaps with silence, updates voice activity and
// sends whole chunks to the service.
func (s *assemblySession) forward(f audio.Frame) error {
	if s.haveSeq && f.Seq > s.lastSeq+1 {
		missing := f.Seq - s.lastSeq - 1
		s.seg.MarkUncertain()
		s.log.Debug("inbound gap back-filled", "missing", missing)
		if missing > maxGapFill {
			missing = maxGapFill
		}
		for i := uint32(0); i < missing; i++ {
			if err := s.push(audio.Silence(audio.FrameSamples)); err != nil {
				return err
			}
		}
	}
	if !s.haveSeq || f.Seq > s.lastSeq {
		s.lastSeq = f.Seq
		s.haveSeq = true
	}
	if end := f.End(); end > s.clock {
		s.clock = end
	}
	s.seg.Voice(f.Timestamp, f.Samples)
	return s.push(f.Samples)
}

func (s *assemblySession) push(samples []int16) error {
	s.chunk = append(s.chunk, samples...)
	if len(s.chunk) < chunkFrames*audio.FrameSamples {
		return nil
	}
	payload := audio.EncodeMulaw(s.chunk)
	s.chunk = s.chunk[:0]
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.a.timeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// reconnect replaces the connection after a mid-stream failure. The failure itself is
// surfaced as a non-fatal Error event; a failed reconnect is fatal.
func (s *assemblySession) reconnect(ctx context.Context, cause error, reads *<-chan readResult) bool {
	if ctx.Err() != nil {
		return false
	}
	s.log.Warn("stt stream failed, reconnecting", "err", cause)
	s.emit(ctx, Event{Kind: Error, Err: &callerr.AdapterError{Adapter: "stt", Op: "stream", Attempts: 1, Err: cause}, At: s.clock})
	_ = s.conn.Close()
	s.emitAll(ctx, s.seg.Flush(s.clock))

	conn, err := s.a.connect(ctx)
	if err != nil {
		s.emit(ctx, Event{Kind: Error, Err: err, Fatal: true, At: s.clock})
		return false
	}
	s.conn = conn
	s.chunk = s.chunk[:0]
	// audio times restart with the new session
	s.turnBase = s.clock
	*reads = s.startReader(conn)
	return true
}

func (s *assemblySession) startReader(conn *websocket.Conn) <-chan readResult {
	out := make(chan readResult, 16)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("recovered from panic in stt reader", "panic", r)
			}
		}()
		// Every exit reports an error: while frames still flow, the service
		// going away is a mid-stream failure. After we closed the connection
		// nobody is listening and the result is dropped with the channel.
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				out <- readResult{err: err}
				return
			}
			turn, done, err := s.processMessage(message)
			if err != nil {
				out <- readResult{err: err}
				return
			}
			if turn != nil {
				out <- readResult{turn: turn}
			}
			if done {
				out <- readResult{err: errSessionEnded}
				return
			}
		}
	}()
	return out
}

// processMessage parses one service message. done is set on Termination.
func (s *assemblySession) processMessage(message []byte) (*TurnMessage, bool, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.log.Warn("error unmarshaling stt message", "err", err)
		return nil, false, nil
	}
	switch base.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			s.log.Debug("assemblyai session began", "session", msg.ID, "expires_at", time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
		}
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn("error unmarshaling turn message", "err", err)
			return nil, false, nil
		}
		if msg.Transcript != "" {
			return &msg, false, nil
		}
	case "Termination":
		var msg TerminationMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			s.log.Debug("assemblyai session terminated", "audio_s", msg.AudioDurationSeconds, "session_s", msg.SessionDurationSeconds)
		}
		return nil, true, nil
	case "Error":
		var msg ErrorMessage
		_ = json.Unmarshal(message, &msg)
		return nil, false, fmt.Errorf("assemblyai: %s", msg.Error)
	default:
		s.log.Debug("unknown stt message type", "type", base.Type)
	}
	return nil, false, nil
}

// terminate asks the service to close the session. When graceful, any
// buffered partial chunk is sent first.
func (s *assemblySession) terminate(graceful bool) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.a.timeout))
	if graceful && len(s.chunk) > 0 {
		_ = s.conn.WriteMessage(websocket.BinaryMessage, audio.EncodeMulaw(s.chunk))
	}
	_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
	_ = s.conn.Close()
}

func (s *assemblySession) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *assemblySession) emitAll(ctx context.Context, evs []Event) {
	for _, ev := range evs {
		s.emit(ctx, ev)
	}
}
