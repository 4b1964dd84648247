// Package mock provides a test double for the translate.Backend interface.
//
// Every operation is driven by an optional function field; when it is nil
// the operation returns a deterministic answer derived from its input so
// pipeline tests can assert on text without configuring anything:
//
//	Translate              -> "[<lang>] <text>"
//	GenerateReply          -> "<persona> replies to: <lastMessage>"
//	Synthesize             -> SpeechResult (nil if unset)
//	TranslateAndSynthesize -> Translate, plus Synthesize when audio is wanted
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/translate"
)

// Compile-time interface assertion.
var _ translate.Backend = (*Backend)(nil)

// Call records one invocation of any Backend method.
type Call struct {
	// Op is "translate", "synthesize", "translate_and_synthesize" or "reply".
	Op        string
	Text      string
	Language  chat.Language
	Voice     string
	Persona   string
	WantAudio bool
}

// Backend is a mock implementation of translate.Backend.
type Backend struct {
	TranslateFunc  func(ctx context.Context, text string, target chat.Language) (string, error)
	SynthesizeFunc func(ctx context.Context, text, voice string) (*translate.Speech, error)
	ReplyFunc      func(ctx context.Context, lastMessage, persona string, lang chat.Language) (string, error)

	// SpeechResult is returned by Synthesize when SynthesizeFunc is nil.
	SpeechResult *translate.Speech

	mu    sync.Mutex
	calls []Call
}

// Translate implements translate.Backend.
func (b *Backend) Translate(ctx context.Context, text string, target chat.Language) (string, error) {
	b.record(Call{Op: "translate", Text: text, Language: target})
	return b.translate(ctx, text, target)
}

// Synthesize implements translate.Backend.
func (b *Backend) Synthesize(ctx context.Context, text, voice string) (*translate.Speech, error) {
	b.record(Call{Op: "synthesize", Text: text, Voice: voice})
	return b.synthesize(ctx, text, voice)
}

// TranslateAndSynthesize implements translate.Backend with the same
// semantics as the real service: a translation failure fails the call, a
// synthesis failure drops the audio.
func (b *Backend) TranslateAndSynthesize(ctx context.Context, text string, target chat.Language, wantAudio bool) (*translate.Result, error) {
	b.record(Call{Op: "translate_and_synthesize", Text: text, Language: target, WantAudio: wantAudio})
	out, err := b.translate(ctx, text, target)
	if err != nil {
		return nil, err
	}
	res := &translate.Result{TranslatedText: out}
	if wantAudio {
		if sp, err := b.synthesize(ctx, out, ""); err == nil {
			res.Audio = sp
		}
	}
	return res, nil
}

// GenerateReply implements translate.Backend.
func (b *Backend) GenerateReply(ctx context.Context, lastMessage, persona string, lang chat.Language) (string, error) {
	b.record(Call{Op: "reply", Text: lastMessage, Persona: persona, Language: lang})
	if b.ReplyFunc != nil {
		return b.ReplyFunc(ctx, lastMessage, persona, lang)
	}
	return fmt.Sprintf("%s replies to: %s", persona, lastMessage), nil
}

// Calls returns a snapshot of all recorded calls in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsFor returns the recorded calls of one operation.
func (b *Backend) CallsFor(op string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *Backend) record(c Call) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}

func (b *Backend) translate(ctx context.Context, text string, target chat.Language) (string, error) {
	if b.TranslateFunc != nil {
		return b.TranslateFunc(ctx, text, target)
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

func (b *Backend) synthesize(ctx context.Context, text, voice string) (*translate.Speech, error) {
	if b.SynthesizeFunc != nil {
		return b.SynthesizeFunc(ctx, text, voice)
	}
	return b.SpeechResult, nil
}
