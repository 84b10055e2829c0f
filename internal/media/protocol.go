// Package media speaks the Twilio Media Streams websocket protocol and
// bridges one stream to a call's frame bus.
package media

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// Message is the envelope of every Media Streams event, in both directions.
type Message struct {
	Event          string     `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSid      string     `json:"streamSid,omitempty"`
	Protocol       string     `json:"protocol,omitempty"`
	Version        string     `json:"version,omitempty"`
	Start          *StartInfo `json:"start,omitempty"`
	Media          *Media     `json:"media,omitempty"`
	Stop           *StopInfo  `json:"stop,omitempty"`
	Mark           *Mark      `json:"mark,omitempty"`
}

type StartInfo struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StopInfo struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type Mark struct {
	Name string `json:"name"`
}

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// frameFromMedia decodes an inbound media event. Chunks count from 1, so
// chunk n becomes sequence n-1. The stream timestamp is in milliseconds
// since the stream started.
func frameFromMedia(m *Media) (audio.Frame, error) {
	chunk, err := strconv.ParseUint(m.Chunk, 10, 32)
	if err != nil || chunk == 0 {
		return audio.Frame{}, fmt.Errorf("media: bad chunk %q", m.Chunk)
	}
	ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		ts = int64(chunk-1) * int64(audio.FrameDuration/time.Millisecond)
	}
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("media: payload: %w", err)
	}
	return audio.Frame{
		Seq:       uint32(chunk - 1),
		Timestamp: time.Duration(ts) * time.Millisecond,
		Samples:   audio.DecodeMulaw(raw),
	}, nil
}

func mediaMessage(streamSid string, f audio.Frame) Message {
	return Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &Media{Payload: base64.StdEncoding.EncodeToString(audio.EncodeMulaw(f.Samples))},
	}
}
