// Package translate turns text into other languages, improvises the simulated
// peer's replies and voices them.
//
// [Backend] is the contract the conversation pipeline depends on. [Service]
// implements it on top of an [llm.Provider] for text and a [tts.Provider] for
// speech. Every operation may fail; callers treat a failure as "skip this
// enrichment" and carry on with what they have.
package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// ErrNoResult is wrapped when the model answered with nothing usable.
var ErrNoResult = errors.New("translate: empty result")

// Backend is the translation and speech backend used by a call.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Translate renders text in the target language.
	Translate(ctx context.Context, text string, target chat.Language) (string, error)

	// Synthesize voices text. An empty voice selects the backend default.
	Synthesize(ctx context.Context, text, voice string) (*Speech, error)

	// TranslateAndSynthesize translates text and, when wantAudio is set,
	// voices the translation. A translation failure fails the call; a
	// synthesis failure yields the translation with nil Audio.
	TranslateAndSynthesize(ctx context.Context, text string, target chat.Language, wantAudio bool) (*Result, error)

	// GenerateReply improvises what persona, who speaks lang, would answer to
	// lastMessage.
	GenerateReply(ctx context.Context, lastMessage, persona string, lang chat.Language) (string, error)
}

// Speech is synthesized audio as it travels between components: base64 text
// plus the information needed to decode it.
type Speech struct {
	Data     string         `json:"data"`
	Encoding audio.Encoding `json:"encoding"`
	Format   audio.Format   `json:"format"`
}

// Decode turns the speech into a playable buffer.
func (s *Speech) Decode() (*audio.Buffer, error) {
	raw, err := audio.DecodeBase64(s.Data)
	if err != nil {
		return nil, err
	}
	return audio.DecodePayload(audio.Payload{Data: raw, Encoding: s.Encoding, Format: s.Format})
}

// Result is the outcome of [Backend.TranslateAndSynthesize].
type Result struct {
	TranslatedText string
	// Audio is nil when no audio was requested or synthesis failed.
	Audio *Speech
}

// TranslationError reports a failed translation or reply generation.
type TranslationError struct {
	// Op is "translate" or "reply".
	Op     string
	Target chat.Language
	Err    error
}

// Error implements the error interface.
func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate: %s into %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TranslationError) Unwrap() error { return e.Err }

// SynthesisError reports a failed speech synthesis.
type SynthesisError struct {
	Voice string
	Err   error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	if e.Voice == "" {
		return fmt.Sprintf("translate: synthesize: %v", e.Err)
	}
	return fmt.Sprintf("translate: synthesize with voice %q: %v", e.Voice, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error { return e.Err }
