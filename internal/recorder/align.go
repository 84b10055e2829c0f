package recorder

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// Aligned holds the reconstructed tracks of a call, all on one timeline and
// all the same length.
type Aligned struct {
	Inbound     []int16
	Outbound    []int16
	OutboundRaw []int16
	Combined    []int16
}

// Duration is the length of the aligned timeline.
func (a Aligned) Duration() time.Duration { return audio.SamplesDuration(len(a.Combined)) }

// Align places frames by their call-clock timestamps. Each outbound segment
// is moved earlier by its measured TTS latency so a reply starts where it
// was dispatched. Uncovered time is silence; where frames of one track
// overlap, the higher sequence number wins. The result depends only on the
// arguments.
func Align(inbound, outbound []audio.Frame, marks []SegmentMark) Aligned {
	latency := make(map[uint32]time.Duration, len(marks))
	for _, m := range marks {
		latency[m.Segment] = m.Latency()
	}
	shift := func(f audio.Frame) time.Duration {
		return f.Timestamp - latency[f.Segment]
	}
	raw := func(f audio.Frame) time.Duration { return f.Timestamp }

	n := max(extent(inbound, raw), extent(outbound, raw), extent(outbound, shift))
	a := Aligned{
		Inbound:     place(inbound, raw, n),
		Outbound:    place(outbound, shift, n),
		OutboundRaw: place(outbound, raw, n),
		Combined:    make([]int16, n),
	}
	for i := range a.Combined {
		a.Combined[i] = a.Inbound[i]/2 + a.Outbound[i]/2
	}
	return a
}

func extent(frames []audio.Frame, at func(audio.Frame) time.Duration) int {
	n := 0
	for _, f := range frames {
		if end := audio.SampleOffset(at(f)) + len(f.Samples); end > n {
			n = end
		}
	}
	return n
}

func place(frames []audio.Frame, at func(audio.Frame) time.Duration, n int) []int16 {
	track := make([]int16, n)
	ordered := append([]audio.Frame(nil), frames...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	for _, f := range ordered {
		copy(track[audio.SampleOffset(at(f)):], f.Samples)
	}
	return track
}

// Track is one rendered audio file.
type Track struct {
	Name string
	Data []byte
}

// Render encodes the aligned tracks as 8kHz mono WAV files.
func Render(a Aligned) ([]Track, error) {
	tracks := []struct {
		name    string
		samples []int16
	}{
		{"inbound.wav", a.Inbound},
		{"outbound.wav", a.Outbound},
		{"outbound_raw.wav", a.OutboundRaw},
		{"combined.wav", a.Combined},
	}
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		var buf bytes.Buffer
		if err := audio.WriteWAV(&buf, t.samples); err != nil {
			return nil, fmt.Errorf("recorder: render %s: %w", t.name, err)
		}
		out = append(out, Track{Name: t.name, Data: buf.Bytes()})
	}
	return out, nil
}
