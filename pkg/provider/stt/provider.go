// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// two streams of Transcript values. Partials are low-latency guesses that
// replace each other wholesale; finals are committed utterances that start a
// translation turn.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browser clients send 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "ja-JP"). An empty string lets the provider auto-detect, if supported.
	Language string
}

// Transcript is a speech-to-text result. Both partial and final transcripts
// use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM16 LE audio matching the StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. The channel is closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. The channel is closed when the
	// session ends.
	Finals() <-chan Transcript

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned SessionHandle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
