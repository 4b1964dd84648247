// Package tts defines the Provider interface for the speech synthesis
// backends that voice translated replies.
//
// A provider turns one complete utterance into encoded audio. Replies are a
// sentence or two, so synthesis is request/response; the playback queue is
// what sequences the results.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// Voice describes a voice a provider can speak with.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g. "Fenrir", "alloy",
	// an ElevenLabs voice id).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language optionally pins the BCP-47 language the voice should speak.
	// Providers that infer the language from the text ignore it.
	Language string

	// Metadata holds provider-specific attributes (gender, accent, ...).
	Metadata map[string]string
}

// Speech is synthesized audio for one utterance.
type Speech struct {
	// Audio holds the encoded bytes.
	Audio []byte

	// Encoding says how Audio is encoded.
	Encoding audio.Encoding

	// Format is the sample rate and channel count of PCM audio. Compressed
	// encodings carry their own format and may leave it zero.
	Format audio.Format
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice. An empty voice ID selects the
	// provider's default voice.
	Synthesize(ctx context.Context, text string, voice Voice) (*Speech, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]Voice, error)
}
