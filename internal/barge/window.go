package barge

import (
	"time"

	"github.com/chadiek/hospital-callbot/internal/audio"
)

// smoothVAD is an energy VAD with a majority vote over the last smoothN frames.
type smoothVAD struct {
	threshold float64
	smoothN   int
	win       []bool
}

func (v *smoothVAD) isSpeech(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	b := audio.RMS(frame) >= v.threshold
	v.win = append(v.win, b)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	trueCount := 0
	for _, x := range v.win {
		if x {
			trueCount++
		}
	}
	return trueCount*2 > len(v.win)
}

func (v *smoothVAD) reset() { v.win = v.win[:0] }

// voteWindow keeps the votes of the frames covering winDur.
type voteWindow struct {
	size int
	hist []bool
}

func newVoteWindow(d time.Duration) *voteWindow {
	n := int((d + audio.FrameDuration - 1) / audio.FrameDuration)
	if n < 1 {
		n = 1
	}
	return &voteWindow{size: n}
}

func (v *voteWindow) Push(b bool) {
	v.hist = append(v.hist, b)
	if len(v.hist) > v.size {
		v.hist = v.hist[len(v.hist)-v.size:]
	}
}

func (v *voteWindow) Full() bool { return len(v.hist) >= v.size }

func (v *voteWindow) Ratio() float64 {
	if len(v.hist) == 0 {
		return 0
	}
	var t int
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(len(v.hist))
}

func (v *voteWindow) Reset() { v.hist = v.hist[:0] }

// bloom is a tiny membership filter for the words the bot is speaking.
type bloom struct{ bits []byte }

func newBloom(n int) *bloom { return &bloom{bits: make([]byte, n)} }

func (b *bloom) hash(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h % uint32(len(b.bits)))
}

func (b *bloom) Add(s string) {
	if len(b.bits) > 0 && s != "" {
		b.bits[b.hash(s)] = 1
	}
}

func (b *bloom) Contains(s string) bool { return len(b.bits) > 0 && b.bits[b.hash(s)] == 1 }

func (b *bloom) Reset() { clear(b.bits) }
