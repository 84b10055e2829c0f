package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func sine(n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return out
}

func TestFrameConstants(t *testing.T) {
	if FrameSamples != 160 {
		t.Fatalf("FrameSamples = %d, want 160", FrameSamples)
	}
	f := Frame{Timestamp: 40 * time.Millisecond, Samples: make([]int16, FrameSamples)}
	if f.End() != 60*time.Millisecond {
		t.Fatalf("End = %v", f.End())
	}
	if SampleOffset(-time.Second) != 0 {
		t.Fatalf("negative offsets must clamp to zero")
	}
	if SampleOffset(time.Second) != SampleRate {
		t.Fatalf("SampleOffset(1s) = %d", SampleOffset(time.Second))
	}
}

func TestFramer_SplitsAndPads(t *testing.T) {
	var fr Framer
	raw := SamplesToBytes(sine(FrameSamples*2+10, 1000))
	frames := fr.Push(raw[:100])
	if len(frames) != 0 {
		t.Fatalf("expected no full frame yet, got %d", len(frames))
	}
	frames = fr.Push(raw[100:])
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	tail := fr.Flush()
	if len(tail) != FrameSamples {
		t.Fatalf("tail must be padded to a full frame, got %d", len(tail))
	}
	if tail[FrameSamples-1] != 0 {
		t.Fatalf("padding must be silence")
	}
	if fr.Flush() != nil {
		t.Fatalf("second flush should be empty")
	}
}

func TestMulawRoundTripKeepsEnergy(t *testing.T) {
	in := sine(FrameSamples, 3000)
	out := DecodeMulaw(EncodeMulaw(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	a, b := RMS(in), RMS(out)
	if math.Abs(a-b)/a > 0.05 {
		t.Fatalf("rms drifted: %f vs %f", a, b)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatalf("empty rms must be zero")
	}
	s := []int16{300, -300, 300, -300}
	if got := RMS(s); got != 300 {
		t.Fatalf("rms = %f", got)
	}
}

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, make([]int16, 80)); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if len(b) != 44+160 {
		t.Fatalf("size = %d", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	if sr := binary.LittleEndian.Uint32(b[24:28]); sr != SampleRate {
		t.Fatalf("sample rate = %d", sr)
	}
	if n := binary.LittleEndian.Uint32(b[40:44]); n != 160 {
		t.Fatalf("data len = %d", n)
	}
}
