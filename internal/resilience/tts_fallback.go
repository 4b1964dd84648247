package resilience

import (
	"context"

	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several speech
// backends.
//
// A voice ID is provider specific, so a request naming a voice is only
// meaningful to the provider that owns it. Fallback entries receive the voice
// with its ID cleared and speak with their own default.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the provider names in failover order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Synthesize renders text with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	return executeIndexed(ctx, f.group, func(i int, p tts.Provider) (*tts.Speech, error) {
		v := voice
		if i > 0 {
			v.ID = ""
		}
		return p.Synthesize(ctx, text, v)
	})
}

// ListVoices returns the voices of the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
