package tts

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// DeepgramClient synthesizes with Deepgram Aura over the speak websocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	idleWindow time.Duration
	deadline   time.Duration
	log        *slog.Logger
}

func NewDeepgramClient(apiKey, model string, logger *slog.Logger) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: audio.SampleRate,
		encoding:   "linear16",
		idleWindow: 400 * time.Millisecond,
		deadline:   12 * time.Second,
		log:        logger.With("component", "tts", "provider", "deepgram"),
	}
}

func (d *DeepgramClient) StreamPCM8k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram: API key missing")
			return
		}
		if text == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}

		w := newSpeakWatch()
		cb := &speakCallback{
			onBinary: func(data []byte) error {
				if len(data) == 0 {
					return nil
				}
				w.heard()
				b := make([]byte, len(data))
				copy(b, data)
				select {
				case pcmCh <- b:
				case <-ctx.Done():
				}
				return nil
			},
			onFlushed: w.flush,
			onError:   w.fail,
		}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}

		stopped := false
		stopClient := func() {
			if !stopped {
				stopped = true
				dg.Stop()
			}
		}
		defer stopClient()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}

		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			d.log.Warn("deepgram flush error", "err", err)
		}

		if err := d.await(ctx, w); err != nil {
			errCh <- err
		}
	}()

	return pcmCh, errCh
}

// speakWatch tracks one utterance's progress as reported by the callback.
type speakWatch struct {
	lastRecv atomic.Int64
	seen     atomic.Bool
	flushed  chan struct{}
	failed   chan error
}

func newSpeakWatch() *speakWatch {
	return &speakWatch{flushed: make(chan struct{}, 1), failed: make(chan error, 1)}
}

func (w *speakWatch) heard() {
	w.lastRecv.Store(time.Now().UnixNano())
	w.seen.Store(true)
}

func (w *speakWatch) flush() {
	select {
	case w.flushed <- struct{}{}:
	default:
	}
}

func (w *speakWatch) fail(err error) {
	select {
	case w.failed <- err:
	default:
	}
}

// await blocks until the utterance is complete. It ends on Flushed, on audio
// going idle, on a service error or when no audio came before the deadline.
func (d *DeepgramClient) await(ctx context.Context, w *speakWatch) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.deadline)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.flushed:
			// Flushed follows the last audio of the utterance
			return nil
		case err := <-w.failed:
			return err
		case <-ticker.C:
			if w.seen.Load() {
				if time.Since(time.Unix(0, w.lastRecv.Load())) > d.idleWindow {
					return nil
				}
			}
			if time.Now().After(deadline) {
				if !w.seen.Load() {
					return fmt.Errorf("deepgram: no audio within %s", d.deadline)
				}
				return nil
			}
		}
	}
}

type speakCallback struct {
	onBinary  func([]byte) error
	onFlushed func()
	onError   func(error)
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error {
	if s.onFlushed != nil {
		s.onFlushed()
	}
	return nil
}
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error   { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error     { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                  { return nil }

func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	if s.onError == nil {
		return nil
	}
	if e == nil {
		s.onError(fmt.Errorf("deepgram: service error"))
		return nil
	}
	s.onError(fmt.Errorf("deepgram: service error: %+v", *e))
	return nil
}
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
