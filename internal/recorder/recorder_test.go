package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

func constFrame(dir audio.Direction, seq uint32, ts time.Duration, v int16) audio.Frame {
	s := make([]int16, audio.FrameSamples)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{CallID: "c1", Direction: dir, Seq: seq, Timestamp: ts, Samples: s}
}

func TestRecorder_RoundTrip(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, "c1", Options{FlushEvery: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		r.Record(constFrame(audio.Inbound, uint32(i), time.Duration(i)*audio.FrameDuration, int16(i)))
	}
	for i := 0; i < 10; i++ {
		f := constFrame(audio.Outbound, uint32(i), time.Second+time.Duration(i)*audio.FrameDuration, 100)
		f.Segment = 1
		r.Record(f)
	}
	r.MarkSegment(1, 700*time.Millisecond, time.Second)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	// ignored after close
	r.Record(constFrame(audio.Inbound, 99, 0, 1))

	rec, err := Load(root, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Inbound) != 50 || len(rec.Outbound) != 10 || len(rec.Segments) != 1 || rec.Torn != 0 {
		t.Fatalf("loaded %d/%d/%d torn=%d", len(rec.Inbound), len(rec.Outbound), len(rec.Segments), rec.Torn)
	}
	for i, f := range rec.Inbound {
		if f.Seq != uint32(i) || f.Samples[0] != int16(i) || f.Direction != audio.Inbound {
			t.Fatalf("inbound %d = %+v", i, f)
		}
	}
	if rec.Segments[0].Latency() != 300*time.Millisecond {
		t.Fatalf("latency = %v", rec.Segments[0].Latency())
	}
}

func TestRecorder_AppendsAcrossSessions(t *testing.T) {
	root := t.TempDir()
	for pass := 0; pass < 2; pass++ {
		r, err := New(root, "c1", Options{})
		if err != nil {
			t.Fatal(err)
		}
		r.Record(constFrame(audio.Inbound, uint32(pass), 0, 1))
		if err := r.Close(); err != nil {
			t.Fatal(err)
		}
	}
	rec, err := Load(root, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Inbound) != 2 {
		t.Fatalf("expected append-only log with 2 frames, got %d", len(rec.Inbound))
	}
}

func TestLoad_IgnoresTornTail(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, "c1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		r.Record(constFrame(audio.Inbound, uint32(i), time.Duration(i)*audio.FrameDuration, 7))
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	partial, err := msgpack.Marshal(constFrame(audio.Inbound, 3, 60*time.Millisecond, 7))
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(filepath.Join(root, "c1", InboundLog), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write(partial[:len(partial)/2])
	_ = f.Close()

	rec, err := Load(root, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Inbound) != 3 || rec.Torn != 1 {
		t.Fatalf("frames = %d torn = %d", len(rec.Inbound), rec.Torn)
	}
}

func TestLoad_MissingCall(t *testing.T) {
	rec, err := Load(t.TempDir(), "nope")
	if err != nil || len(rec.Inbound) != 0 || len(rec.Outbound) != 0 {
		t.Fatalf("rec = %+v err = %v", rec, err)
	}
}

func TestAlign_ShiftsOutboundByLatency(t *testing.T) {
	in := []audio.Frame{constFrame(audio.Inbound, 0, 0, 1000)}
	out := []audio.Frame{
		{Seq: 0, Segment: 1, Timestamp: 500 * time.Millisecond, Samples: constFrame(0, 0, 0, 2000).Samples},
		{Seq: 1, Segment: 1, Timestamp: 520 * time.Millisecond, Samples: constFrame(0, 0, 0, 2000).Samples},
	}
	marks := []SegmentMark{{Segment: 1, Dispatched: 100 * time.Millisecond, FirstFrame: 500 * time.Millisecond}}
	a := Align(in, out, marks)

	if got := len(a.Combined); got != audio.SampleOffset(540*time.Millisecond) {
		t.Fatalf("timeline = %d samples", got)
	}
	at := func(track []int16, d time.Duration) int16 { return track[audio.SampleOffset(d)] }
	if at(a.Outbound, 100*time.Millisecond) != 2000 || at(a.Outbound, 500*time.Millisecond) != 0 {
		t.Fatalf("aligned outbound must start at dispatch time")
	}
	if at(a.OutboundRaw, 500*time.Millisecond) != 2000 || at(a.OutboundRaw, 100*time.Millisecond) != 0 {
		t.Fatalf("raw outbound must keep emit time")
	}
	if at(a.Inbound, 0) != 1000 || at(a.Inbound, 40*time.Millisecond) != 0 {
		t.Fatalf("gaps must be silence")
	}
	if at(a.Combined, 0) != 500 || at(a.Combined, 100*time.Millisecond) != 1000 {
		t.Fatalf("combined must halve and add: %d %d", at(a.Combined, 0), at(a.Combined, 100*time.Millisecond))
	}
}

func TestAlign_OverlapResolvedBySequence(t *testing.T) {
	in := []audio.Frame{
		constFrame(audio.Inbound, 5, 0, 9),
		constFrame(audio.Inbound, 4, 0, 4),
	}
	a := Align(in, nil, nil)
	if a.Inbound[0] != 9 {
		t.Fatalf("higher sequence must win, got %d", a.Inbound[0])
	}
}

func TestAlign_Deterministic(t *testing.T) {
	var in, out []audio.Frame
	for i := 0; i < 100; i++ {
		in = append(in, constFrame(audio.Inbound, uint32(i), time.Duration(i)*audio.FrameDuration, int16(i*10)))
	}
	for i := 0; i < 40; i++ {
		f := constFrame(audio.Outbound, uint32(i), time.Second+time.Duration(i)*audio.FrameDuration, int16(-i*10))
		f.Segment = uint32(1 + i/20)
		out = append(out, f)
	}
	marks := []SegmentMark{{1, 800 * time.Millisecond, time.Second}, {2, 1200 * time.Millisecond, 1400 * time.Millisecond}}

	render := func(in, out []audio.Frame) []Track {
		tracks, err := Render(Align(in, out, marks))
		if err != nil {
			t.Fatal(err)
		}
		return tracks
	}
	first := render(in, out)
	// input order must not matter either
	rin := append([]audio.Frame(nil), in...)
	for i, j := 0, len(rin)-1; i < j; i, j = i+1, j-1 {
		rin[i], rin[j] = rin[j], rin[i]
	}
	second := render(rin, out)
	if len(first) != 4 {
		t.Fatalf("tracks = %d", len(first))
	}
	for i := range first {
		if first[i].Name != second[i].Name || !bytes.Equal(first[i].Data, second[i].Data) {
			t.Fatalf("track %s differs between runs", first[i].Name)
		}
	}
	if string(first[3].Data[:4]) != "RIFF" || first[3].Name != "combined.wav" {
		t.Fatalf("unexpected track %s", first[3].Name)
	}
}
