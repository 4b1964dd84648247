// Package audio defines the decoded sample buffers that flow from speech
// synthesis to the playback queue, together with the decoders that produce
// them.
//
// Speech arrives from synthesis backends as raw bytes (usually base64 encoded
// on the wire) in one of the supported [Encoding]s. [Decode] and
// [DecodePayload] turn those bytes into a [Buffer] of normalised float32
// samples that an output device can play.
package audio

import (
	"fmt"
	"time"
)

// SpeechSampleRate is the sample rate of synthesized speech returned by the
// translation backend.
const SpeechSampleRate = 24000

// SpeechFormat is the default format of synthesized speech: 24 kHz mono.
var SpeechFormat = Format{SampleRate: SpeechSampleRate, Channels: 1}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f has a positive sample rate and one or two channels.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// FrameSize returns the number of bytes one PCM16 frame occupies.
func (f Format) FrameSize() int {
	return f.Channels * 2
}

// String returns a compact representation such as "24000Hz/mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz/mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz/stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
	}
}

// Buffer is a decoded block of audio ready for playback. Samples are
// interleaved and normalised to [-1.0, 1.0).
//
// A Buffer is owned by whoever holds it last: the decoder hands it to the
// playback queue, which releases it once playback finishes.
type Buffer struct {
	Samples []float32
	Format
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 encodes the buffer as interleaved 16-bit signed little-endian PCM.
// Samples outside [-1, 1] are clamped.
func (b *Buffer) PCM16() []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		v := floatToInt16(s)
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := s * 32768
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	default:
		return int16(v)
	}
}
