package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"

	"github.com/chadiek/hospital-callbot/internal/audio"
	"github.com/chadiek/hospital-callbot/internal/callerr"
)

// fakeSynth emits frames chunks of one 20ms frame each, pausing between
// them, and can fail the first few calls before producing audio.
type fakeSynth struct {
	frames   int
	gap      time.Duration
	failures int32
	calls    atomic.Int32
	sent     atomic.Int32
}

func (f *fakeSynth) StreamPCM8k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte)
	errs := make(chan error, 1)
	n := f.calls.Add(1)
	go func() {
		defer close(pcm)
		defer close(errs)
		if n <= f.failures {
			errs <- errors.New("upstream unavailable")
			return
		}
		for i := 0; i < f.frames; i++ {
			select {
			case pcm <- make([]byte, audio.FrameSamples*2):
				f.sent.Add(1)
			case <-ctx.Done():
				return
			}
			if f.gap > 0 {
				time.Sleep(f.gap)
			}
		}
	}()
	return pcm, errs
}

func drain(t *testing.T, s *Stream) int {
	t.Helper()
	n := 0
	deadline := time.After(3 * time.Second)
	for {
		_, st := s.Poll()
		switch st {
		case Ready:
			n++
		case Done:
			return n
		case Pending:
			select {
			case <-deadline:
				t.Fatalf("stream never finished")
			case <-time.After(time.Millisecond):
			}
		}
	}
}

func TestStream_YieldsAllFrames(t *testing.T) {
	syn := &fakeSynth{frames: 5}
	s := Start(context.Background(), syn, "hello", callerr.Policy{Attempts: 1})
	if got := drain(t, s); got != 5 {
		t.Fatalf("frames = %d, want 5", got)
	}
	if s.Err() != nil || s.Yielded() != 5 {
		t.Fatalf("err = %v yielded = %d", s.Err(), s.Yielded())
	}
}

func TestStream_CancelStopsImmediately(t *testing.T) {
	syn := &fakeSynth{frames: 200, gap: time.Millisecond}
	s := Start(context.Background(), syn, "a long reply", callerr.Policy{Attempts: 1})
	got := 0
	for got < 3 {
		if _, st := s.Poll(); st == Ready {
			got++
		}
	}
	s.Cancel()
	for i := 0; i < 50; i++ {
		if f, st := s.Poll(); st != Done || f != nil {
			t.Fatalf("poll after cancel returned %v", st)
		}
		time.Sleep(time.Millisecond)
	}
	s.Wait()
	if s.Yielded() != 3 {
		t.Fatalf("yielded = %d after cancel, want 3", s.Yielded())
	}
	if s.Err() != nil {
		t.Fatalf("cancellation is not an error: %v", s.Err())
	}
	if syn.sent.Load() >= 200 {
		t.Fatalf("upstream was not cancelled")
	}
}

func TestStream_RetriesBeforeFirstAudio(t *testing.T) {
	syn := &fakeSynth{frames: 2, failures: 2}
	s := Start(context.Background(), syn, "hi", callerr.Policy{Attempts: 3, Base: time.Millisecond})
	if got := drain(t, s); got != 2 {
		t.Fatalf("frames = %d", got)
	}
	if syn.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", syn.calls.Load())
	}
}

func TestStream_ExhaustedRetriesSurfaceAdapterError(t *testing.T) {
	syn := &fakeSynth{frames: 2, failures: 10}
	s := Start(context.Background(), syn, "hi", callerr.Policy{Attempts: 2, Base: time.Millisecond})
	if got := drain(t, s); got != 0 {
		t.Fatalf("frames = %d", got)
	}
	if !errors.Is(s.Err(), callerr.ErrTransient) {
		t.Fatalf("expected transient adapter error, got %v", s.Err())
	}
}

func TestElevenLabs_DecodesMulaw(t *testing.T) {
	var gotKey, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		_, _ = w.Write(audio.EncodeMulaw(make([]int16, audio.FrameSamples*2)))
	}))
	defer srv.Close()

	c := NewElevenLabsClient("xi", "voice")
	c.BaseURL = srv.URL
	s := Start(context.Background(), c, "hello", callerr.Policy{Attempts: 1})
	if got := drain(t, s); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}
	if gotKey != "xi" || gotFormat != "ulaw_8000" {
		t.Fatalf("key=%q format=%q", gotKey, gotFormat)
	}
}

func TestElevenLabs_HTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := NewElevenLabsClient("xi", "voice")
	c.BaseURL = srv.URL
	pcm, errs := c.StreamPCM8k(context.Background(), "hello")
	for range pcm {
	}
	if err := <-errs; err == nil {
		t.Fatalf("expected status error")
	}
}

// This is a smoke test for StreamPCM8k without an API key; it should error quickly
func TestDeepgram_StreamPCM8k_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.StreamPCM8k(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
		// ignore
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestDeepgram_ServiceErrorFailsFast(t *testing.T) {
	d := NewDeepgramClient("k", "", nil)
	w := newSpeakWatch()
	cb := &speakCallback{onError: w.fail}
	if err := cb.Error(&msginterfaces.ErrorResponse{}); err != nil {
		t.Fatalf("callback = %v", err)
	}

	start := time.Now()
	err := d.await(context.Background(), w)
	if err == nil || !strings.Contains(err.Error(), "deepgram: service error") {
		t.Fatalf("await = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("service error took %v to surface", time.Since(start))
	}
}

func TestDeepgram_AwaitEndsWhenAudioGoesIdle(t *testing.T) {
	d := NewDeepgramClient("k", "", nil)
	d.idleWindow = 50 * time.Millisecond
	w := newSpeakWatch()
	w.heard()
	if err := d.await(context.Background(), w); err != nil {
		t.Fatalf("await = %v", err)
	}

	d.deadline = 100 * time.Millisecond
	if err := d.await(context.Background(), newSpeakWatch()); err == nil || !strings.Contains(err.Error(), "no audio") {
		t.Fatalf("await without audio = %v", err)
	}
}
