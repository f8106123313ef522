// Package audio forwards one emulator's core-generated PCM samples to
// subscribed users, encoding them with Opus so the wire payload stays
// small. The sample batch shape (PCM16, interleaved stereo, fixed sample
// rate) mirrors what on_audio_sample_batch hands the controller.
package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	sampleRate = 48000
	channels   = 2
	// frameSize is 20ms at 48kHz, the same frame size the teacher's own
	// client-side capture path used for live mic audio.
	frameSize = 960
)

// Encoder batches interleaved PCM16 stereo samples and encodes completed
// 20ms frames with Opus. Partial frames are buffered until enough samples
// accumulate; Reset abandons any partial tail.
type Encoder struct {
	enc *opus.Encoder
	buf []int16
}

// NewEncoder constructs an Opus encoder at the fixed sample rate/channel
// count this server standardizes core audio on.
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("new opus encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Push appends newly arrived interleaved PCM16 samples and returns zero or
// more encoded Opus frames for every complete frameSize*channels chunk now
// available.
func (e *Encoder) Push(samples []int16) [][]byte {
	e.buf = append(e.buf, samples...)

	var frames [][]byte
	chunk := frameSize * channels
	for len(e.buf) >= chunk {
		out := make([]byte, 4000)
		n, err := e.enc.Encode(e.buf[:chunk], out)
		if err == nil {
			frames = append(frames, out[:n])
		}
		e.buf = e.buf[chunk:]
	}
	return frames
}

// Reset discards any buffered partial frame.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}
