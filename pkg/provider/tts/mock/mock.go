// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to hand controlled speech to the translation service and to
// verify which text and voice were sent to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: &tts.Speech{Audio: pcm, Encoding: audio.EncodingPCM16, Format: audio.SpeechFormat},
//	    ListVoicesResult: []tts.Voice{{ID: "Fenrir", Name: "Fenrir"}},
//	}
//	speech, _ := p.Synthesize(ctx, "Hola", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeFunc, when set, computes the result of every Synthesize call
	// and takes precedence over SynthesizeResult and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error)

	// SynthesizeResult is returned by Synthesize.
	SynthesizeResult *tts.Speech

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn, res, err := p.SynthesizeFunc, p.SynthesizeResult, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	return res, err
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a snapshot of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
