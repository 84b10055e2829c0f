// Package recorder captures both directions of a call into append-only
// frame logs and rebuilds time-aligned audio tracks from them afterwards.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// Log file names inside a call directory.
const (
	InboundLog  = "inbound.frames"
	OutboundLog = "outbound.frames"
	SegmentLog  = "segments.frames"
)

// SegmentMark locates one outbound segment on the call clock: when its text
// was dispatched to TTS and when its first frame went out.
type SegmentMark struct {
	Segment    uint32        `msgpack:"g"`
	Dispatched time.Duration `msgpack:"d"`
	FirstFrame time.Duration `msgpack:"f"`
}

// Latency is the measured TTS pipeline delay of the segment.
func (m SegmentMark) Latency() time.Duration {
	if m.FirstFrame < m.Dispatched {
		return 0
	}
	return m.FirstFrame - m.Dispatched
}

// Options tunes a Recorder.
type Options struct {
	// FlushEvery bounds how long records stay in the write buffer.
	FlushEvery time.Duration
	// Buffer is the per-direction queue length.
	Buffer int
	Logger *slog.Logger
}

// Recorder is a bus tap. Each log has exactly one writer goroutine.
type Recorder struct {
	callID string
	dir    string
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool

	in   *logWriter[audio.Frame]
	out  *logWriter[audio.Frame]
	segs *logWriter[SegmentMark]
}

// New opens (or appends to) the logs of callID under root.
func New(root, callID string, opts Options) (*Recorder, error) {
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 500 * time.Millisecond
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := CallDir(root, callID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r := &Recorder{callID: callID, dir: dir, log: logger.With("call_id", callID, "component", "recorder")}
	var err error
	if r.in, err = openLog[audio.Frame](filepath.Join(dir, InboundLog), opts); err != nil {
		return nil, err
	}
	if r.out, err = openLog[audio.Frame](filepath.Join(dir, OutboundLog), opts); err != nil {
		r.in.close()
		return nil, err
	}
	if r.segs, err = openLog[SegmentMark](filepath.Join(dir, SegmentLog), opts); err != nil {
		r.in.close()
		r.out.close()
		return nil, err
	}
	return r, nil
}

// CallDir is where the logs of callID live.
func CallDir(root, callID string) string { return filepath.Join(root, callID) }

// Dir returns the call directory.
func (r *Recorder) Dir() string { return r.dir }

// Record implements bus.Tap.
func (r *Recorder) Record(f audio.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	switch f.Direction {
	case audio.Inbound:
		r.in.ch <- f
	case audio.Outbound:
		r.out.ch <- f
	}
}

// MarkSegment persists the latency measurement of an outbound segment.
func (r *Recorder) MarkSegment(segment uint32, dispatched, firstFrame time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.segs.ch <- SegmentMark{Segment: segment, Dispatched: dispatched, FirstFrame: firstFrame}
}

// Close flushes and closes every log. Frames recorded after Close are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := errors.Join(r.in.close(), r.out.close(), r.segs.close())
	if err != nil {
		r.log.Error("recorder close", "err", err)
	}
	return err
}

// logWriter appends msgpack records of one type to one file.
type logWriter[T any] struct {
	ch   chan T
	done chan struct{}
	err  error
}

func openLog[T any](path string, opts Options) (*logWriter[T], error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	w := &logWriter[T]{ch: make(chan T, opts.Buffer), done: make(chan struct{})}
	go w.run(f, opts.FlushEvery)
	return w, nil
}

func (w *logWriter[T]) run(f *os.File, every time.Duration) {
	defer close(w.done)
	bw := bufio.NewWriterSize(f, 64*1024)
	enc := msgpack.NewEncoder(bw)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	fail := func(err error) {
		if w.err == nil {
			w.err = err
		}
	}
	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				if err := bw.Flush(); err != nil {
					fail(err)
				}
				if err := f.Sync(); err != nil {
					fail(err)
				}
				if err := f.Close(); err != nil {
					fail(err)
				}
				return
			}
			if w.err != nil {
				continue
			}
			if err := enc.Encode(rec); err != nil {
				fail(fmt.Errorf("recorder: encode: %w", err))
			}
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				fail(err)
			}
		}
	}
}

func (w *logWriter[T]) close() error {
	close(w.ch)
	<-w.done
	return w.err
}
