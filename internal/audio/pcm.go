package audio

import (
	"encoding/binary"
	"math"

	"github.com/zaf/g711"
)

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is dropped.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodeMulaw converts G.711 μ-law bytes to PCM samples.
func DecodeMulaw(mulaw []byte) []int16 {
	return BytesToSamples(g711.DecodeUlaw(mulaw))
}

// EncodeMulaw converts PCM samples to G.711 μ-law bytes.
func EncodeMulaw(s []int16) []byte {
	return g711.EncodeUlaw(SamplesToBytes(s))
}

// RMS returns the root mean square energy of the samples.
func RMS(s []int16) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(s)))
}

// Silence returns n zero samples.
func Silence(n int) []int16 { return make([]int16, n) }

// Framer cuts an arbitrary PCM byte stream into whole FrameSamples frames.
// The zero value is ready to use.
type Framer struct {
	pending []byte
}

// Push appends raw little-endian PCM and returns every complete frame.
func (f *Framer) Push(b []byte) [][]int16 {
	f.pending = append(f.pending, b...)
	const frameBytes = FrameSamples * 2
	var frames [][]int16
	for len(f.pending) >= frameBytes {
		frames = append(frames, BytesToSamples(f.pending[:frameBytes]))
		f.pending = f.pending[frameBytes:]
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return frames
}

// Flush returns the remaining partial frame padded with silence, if any.
func (f *Framer) Flush() []int16 {
	if len(f.pending) < 2 {
		f.pending = nil
		return nil
	}
	frame := make([]int16, FrameSamples)
	copy(frame, BytesToSamples(f.pending))
	f.pending = nil
	return frame
}

// Reset discards any buffered partial frame.
func (f *Framer) Reset() { f.pending = nil }
