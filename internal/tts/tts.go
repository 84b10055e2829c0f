// Package tts adapts streaming speech synthesis services and turns their
// output into paced, cancellable 20ms frames.
package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/callerr"
)

// Synthesizer streams 8kHz 16-bit little-endian PCM for text. The error
// channel carries at most one error; both channels are closed when done.
type Synthesizer interface {
	StreamPCM8k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PollState is the outcome of Stream.Poll.
type PollState int

const (
	// Ready means a frame was returned.
	Ready PollState = iota
	// Pending means synthesis is still running but no frame is buffered yet.
	Pending
	// Done means the stream finished, failed or was cancelled.
	Done
)

// Stream is one utterance being synthesized.
type Stream struct {
	cancel    context.CancelFunc
	frames    chan []int16
	finished  chan struct{}
	cancelled atomic.Bool
	once      sync.Once

	mu      sync.Mutex
	err     error
	yielded int
}

// maxBuffered bounds read-ahead; 20s of audio.
const maxBuffered = 1000

// Start begins synthesizing text. Upstream failures before the first audio
// are retried under policy; the final error is available from Err once Poll
// reports Done.
func Start(ctx context.Context, syn Synthesizer, text string, policy callerr.Policy) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		cancel:   cancel,
		frames:   make(chan []int16, maxBuffered),
		finished: make(chan struct{}),
	}
	go s.pump(ctx, syn, text, policy)
	return s
}

var errNoAudio = errors.New("synthesizer produced no audio")

func (s *Stream) pump(ctx context.Context, syn Synthesizer, text string, policy callerr.Policy) {
	defer close(s.finished)
	defer close(s.frames)

	produced := false
	err := callerr.Retry(ctx, policy, "tts", "stream", func(ctx context.Context) error {
		var framer audio.Framer
		pcm, errs := syn.StreamPCM8k(ctx, text)
		var failure error
		for pcm != nil || errs != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b, ok := <-pcm:
				if !ok {
					pcm = nil
					continue
				}
				for _, f := range framer.Push(b) {
					if !s.push(ctx, f) {
						return ctx.Err()
					}
					produced = true
				}
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if e != nil {
					failure = e
				}
			}
		}
		if tail := framer.Flush(); tail != nil {
			if !s.push(ctx, tail) {
				return ctx.Err()
			}
			produced = true
		}
		switch {
		case failure != nil && produced:
			// audio already went out; a retry would repeat it
			return callerr.Permanent(failure)
		case failure != nil:
			return failure
		case !produced:
			return errNoAudio
		}
		return nil
	})
	if err != nil && !s.cancelled.Load() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

func (s *Stream) push(ctx context.Context, f []int16) bool {
	if s.cancelled.Load() {
		return false
	}
	select {
	case s.frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// Poll returns the next frame without blocking. After Cancel it always
// reports Done and never yields another frame.
func (s *Stream) Poll() ([]int16, PollState) {
	if s.cancelled.Load() {
		return nil, Done
	}
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, Done
		}
		s.mu.Lock()
		s.yielded++
		s.mu.Unlock()
		return f, Ready
	default:
		return nil, Pending
	}
}

// Cancel stops synthesis, releases buffered audio and cancels the upstream
// request. It is safe to call more than once.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.cancel()
		go func() {
			for range s.frames {
			}
		}()
	})
}

// Cancelled reports whether Cancel was called.
func (s *Stream) Cancelled() bool { return s.cancelled.Load() }

// Wait blocks until the producer has exited.
func (s *Stream) Wait() { <-s.finished }

// Err is the terminal synthesis error, if any. It is only meaningful once
// Poll has reported Done; cancellation is not an error.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Yielded is the number of frames handed to the caller so far.
func (s *Stream) Yielded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yielded
}
