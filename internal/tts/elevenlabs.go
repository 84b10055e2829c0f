package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

const defaultElevenLabsURL = "https://api.elevenlabs.io"

// ElevenLabsClient streams telephony μ-law from the HTTP streaming endpoint
// and hands it on as PCM.
type ElevenLabsClient struct {
	APIKey     string
	VoiceID    string
	BaseURL    string
	ModelID    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewElevenLabsClient(apiKey, voiceID string) *ElevenLabsClient {
	return &ElevenLabsClient{
		APIKey:     apiKey,
		VoiceID:    voiceID,
		BaseURL:    defaultElevenLabsURL,
		ModelID:    "eleven_flash_v2_5",
		HTTPClient: &http.Client{Timeout: 0},
		Logger:     slog.Default().With("component", "tts", "provider", "elevenlabs"),
	}
}

func (e *ElevenLabsClient) StreamPCM8k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.httpStream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) httpStream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	base := e.BaseURL
	if base == "" {
		base = defaultElevenLabsURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/v1/text-to-speech/" + url.PathEscape(e.VoiceID) + "/stream")
	if err != nil {
		return fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", "ulaw_8000")
	// lower streaming latency target (0..4 where lower is lower latency, may trade quality)
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": e.ModelID,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs http stream error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 1600)
	logged := false
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if !logged && e.Logger != nil {
				e.Logger.Debug("receiving audio stream", "first_chunk_bytes", n)
				logged = true
			}
			pcm := audio.SamplesToBytes(audio.DecodeMulaw(chunk[:n]))
			select {
			case pcmCh <- pcm:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs http read error: %w", rerr)
		}
	}
}
