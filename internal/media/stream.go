package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/hospital-callbot/internal/bus"
	"github.com/chadiek/hospital-callbot/internal/callerr"
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	writeWait  = 5 * time.Second
	startWait  = 10 * time.Second
	pingPeriod = 20 * time.Second
)

// Stream is one accepted Media Streams connection.
type Stream struct {
	conn    *websocket.Conn
	start   StartInfo
	started time.Time
	log     *slog.Logger

	wmu sync.Mutex
}

// Accept reads the handshake (connected, then start) off an upgraded
// connection. It fails if start does not arrive in time.
func Accept(conn *websocket.Conn, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_ = conn.SetReadDeadline(time.Now().Add(startWait))
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			return nil, fmt.Errorf("media: waiting for start: %w", err)
		}
		switch m.Event {
		case EventConnected:
			continue
		case EventStart:
			if m.Start == nil {
				return nil, errors.New("media: start event without payload")
			}
			_ = conn.SetReadDeadline(time.Time{})
			s := &Stream{conn: conn, start: *m.Start, started: time.Now()}
			s.log = logger.With("component", "media", "stream_sid", m.Start.StreamSid, "call_sid", m.Start.CallSid)
			s.log.Info("media stream started", "tracks", m.Start.Tracks, "encoding", m.Start.MediaFormat.Encoding)
			return s, nil
		case EventStop:
			return nil, &callerr.TerminationError{Reason: "stream stopped before start"}
		}
	}
}

func (s *Stream) Start() StartInfo { return s.start }

// StartedAt is when the start event arrived. Inbound media timestamps count
// from the stream start, so this is the epoch of the call clock.
func (s *Stream) StartedAt() time.Time { return s.started }

// Param returns a <Parameter> passed through the TwiML <Stream>.
func (s *Stream) Param(name string) string { return s.start.CustomParameters[name] }

// Run bridges the stream and b until the remote side stops or b is done.
// Inbound media goes to the bus; outbound frames and clears go to Twilio.
// It closes the bus inbound side on return and the websocket when b is done.
func (s *Stream) Run(ctx context.Context, b *bus.Bus) error {
	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(b) }()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case err := <-readErr:
			_ = s.conn.Close()
			return err
		case <-ctx.Done():
			s.close()
			<-readErr
			return ctx.Err()
		case <-b.Done():
			s.drain(b)
			s.close()
			<-readErr
			return nil
		case <-b.Cleared():
			if err := s.write(Message{Event: EventClear, StreamSid: s.start.StreamSid}); err != nil {
				return s.fail(err, readErr)
			}
		case f := <-b.Outbound():
			if err := s.write(mediaMessage(s.start.StreamSid, f)); err != nil {
				return s.fail(err, readErr)
			}
		case <-ping.C:
			s.wmu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.wmu.Unlock()
			if err != nil {
				return s.fail(err, readErr)
			}
		}
	}
}

func (s *Stream) readLoop(b *bus.Bus) error {
	defer b.CloseInbound()
	for {
		var m Message
		if err := s.conn.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("media stream closed by remote")
				return nil
			}
			return fmt.Errorf("media: read: %w", err)
		}
		switch m.Event {
		case EventMedia:
			if m.Media == nil || (m.Media.Track != "" && m.Media.Track != "inbound") {
				continue
			}
			f, err := frameFromMedia(m.Media)
			if err != nil {
				s.log.Warn("dropping media event", "err", err)
				continue
			}
			if err := b.PublishInbound(f); err != nil {
				var gap *callerr.GapError
				if errors.As(err, &gap) {
					s.log.Warn("inbound gap", "expected", gap.Expected, "got", gap.Got)
					continue
				}
				return nil
			}
		case EventMark:
			if m.Mark != nil {
				s.log.Debug("mark played", "name", m.Mark.Name)
			}
		case EventStop:
			s.log.Info("media stream stopped")
			return nil
		}
	}
}

// drain sends outbound frames still queued when the call ended, so a
// goodbye is not cut short.
func (s *Stream) drain(b *bus.Bus) {
	for {
		select {
		case f := <-b.Outbound():
			if s.write(mediaMessage(s.start.StreamSid, f)) != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Stream) write(m Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(m)
}

func (s *Stream) fail(err error, readErr <-chan error) error {
	s.close()
	<-readErr
	return fmt.Errorf("media: write: %w", err)
}

func (s *Stream) close() {
	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	_ = s.conn.Close()
}
