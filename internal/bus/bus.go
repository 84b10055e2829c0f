// Package bus carries one call's audio frames between the transport, the
// turn-taking session and passive taps such as the recorder.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/callerr"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Tap observes every frame of both directions. Implementations must not
// retain and mutate the frame's sample slice.
type Tap interface {
	Record(f audio.Frame)
}

// TapFunc adapts a function to Tap.
type TapFunc func(f audio.Frame)

func (fn TapFunc) Record(f audio.Frame) { fn(f) }

// Options sizes the bus buffers.
type Options struct {
	InboundBuffer  int
	OutboundBuffer int
	Logger         *slog.Logger
}

// Bus is the duplex frame channel of one call. Inbound is written by the
// transport and read by the session; outbound is written by the session and
// read by the transport. Taps see every frame before it is handed on.
type Bus struct {
	callID string
	log    *slog.Logger
	taps   []Tap

	in      chan audio.Frame
	out     chan audio.Frame
	clear   chan struct{}
	done    chan struct{}
	inDone  chan struct{}
	inOnce  sync.Once
	outOnce sync.Once

	// inbound sequence tracking, owned by the single transport writer
	inNext    uint32
	inStarted bool
	gaps      atomic.Int64
	dropped   atomic.Int64

	outMu  sync.Mutex
	outSeq uint32
}

// New creates a bus for callID with the given taps.
func New(callID string, opts Options, taps ...Tap) *Bus {
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 256
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		callID: callID,
		log:    logger.With("component", "bus"),
		taps:   taps,
		in:     make(chan audio.Frame, opts.InboundBuffer),
		out:    make(chan audio.Frame, opts.OutboundBuffer),
		clear:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		inDone: make(chan struct{}),
	}
}

// CallID returns the call the bus belongs to.
func (b *Bus) CallID() string { return b.callID }

// PublishInbound hands a remote frame to the taps and the session. It never
// blocks on the session: if the session lags the frame is still recorded and
// the overflow is counted. A sequence gap is returned as a *callerr.GapError
// for the caller to log; the frame is still delivered.
//
// PublishInbound and CloseInbound must be called from the same goroutine.
func (b *Bus) PublishInbound(f audio.Frame) error {
	select {
	case <-b.inDone:
		return ErrClosed
	default:
	}
	f.CallID = b.callID
	f.Direction = audio.Inbound

	var gap error
	if b.inStarted && f.Seq > b.inNext {
		b.gaps.Add(1)
		gap = &callerr.GapError{Direction: audio.Inbound.String(), Expected: b.inNext, Got: f.Seq}
	}
	if !b.inStarted || f.Seq >= b.inNext {
		b.inNext = f.Seq + 1
		b.inStarted = true
	}

	for _, t := range b.taps {
		t.Record(f)
	}
	select {
	case b.in <- f:
	default:
		if n := b.dropped.Add(1); n == 1 || n%50 == 0 {
			b.log.Warn("session lagging, inbound frame not delivered", "dropped", n)
		}
	}
	return gap
}

// CloseInbound signals that the remote side is gone. The session observes
// it as the inbound channel closing.
func (b *Bus) CloseInbound() {
	b.inOnce.Do(func() {
		close(b.inDone)
		close(b.in)
	})
}

// Inbound is the session's view of remote audio.
func (b *Bus) Inbound() <-chan audio.Frame { return b.in }

// PublishOutbound stamps the outbound sequence number, feeds the taps and
// queues the frame for the transport.
func (b *Bus) PublishOutbound(ctx context.Context, f audio.Frame) (audio.Frame, error) {
	select {
	case <-b.done:
		return f, ErrClosed
	default:
	}
	b.outMu.Lock()
	f.Seq = b.outSeq
	b.outSeq++
	b.outMu.Unlock()
	f.CallID = b.callID
	f.Direction = audio.Outbound

	for _, t := range b.taps {
		t.Record(f)
	}
	select {
	case b.out <- f:
		return f, nil
	case <-b.done:
		return f, ErrClosed
	case <-ctx.Done():
		return f, ctx.Err()
	}
}

// Outbound is the transport's view of synthesized audio.
func (b *Bus) Outbound() <-chan audio.Frame { return b.out }

// Clear asks the transport to discard outbound audio it has queued but not
// played, and drains frames still sitting in the bus.
func (b *Bus) Clear() {
drain:
	for {
		select {
		case <-b.out:
		default:
			break drain
		}
	}
	select {
	case b.clear <- struct{}{}:
	default:
	}
}

// Cleared fires after Clear. The transport selects on it next to Outbound.
func (b *Bus) Cleared() <-chan struct{} { return b.clear }

// Done is closed once the call has finished.
func (b *Bus) Done() <-chan struct{} { return b.done }

// Close ends the call. Outbound stops accepting frames; the transport sees
// Done and can flush and hang up.
func (b *Bus) Close() {
	b.outOnce.Do(func() { close(b.done) })
}

// Stats reports inbound gaps and frames the session did not receive.
func (b *Bus) Stats() (gaps, dropped int) {
	return int(b.gaps.Load()), int(b.dropped.Load())
}
