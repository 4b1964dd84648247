// Package gemini provides a tts.Provider backed by Gemini's native speech
// generation (generateContent with the AUDIO response modality) through the
// google.golang.org/genai SDK.
//
// Gemini returns raw 16-bit PCM, 24 kHz mono, as inline data. The sample
// rate is read from the part's MIME type when present.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "gemini-2.5-flash-preview-tts"
	defaultVoice = "Fenrir"
)

// ErrNoAudio is returned when the model answers without an audio part.
var ErrNoAudio = errors.New("gemini: response contains no audio")

// prebuiltVoices are the voices offered to clients. Gemini has more; these
// are the ones known to sound natural across languages.
var prebuiltVoices = []string{"Fenrir", "Puck", "Kore", "Zephyr", "Charon", "Aoede", "Leda", "Orus"}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithDefaultVoice sets the prebuilt voice used when a request names none.
func WithDefaultVoice(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.voice = name
		}
	}
}

// WithBaseURL points the SDK at a different endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// Provider implements tts.Provider using Gemini speech generation.
type Provider struct {
	client  *genai.Client
	model   string
	voice   string
	baseURL string
}

// New creates a Provider. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(p)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p.client = client
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("gemini: text must not be empty")
	}
	name := voice.ID
	if name == "" {
		name = p.voice
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: name},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate speech: %w", err)
	}
	blob := firstAudio(resp)
	if blob == nil {
		return nil, ErrNoAudio
	}
	return &tts.Speech{
		Audio:    blob.Data,
		Encoding: audio.EncodingPCM16,
		Format:   audio.Format{SampleRate: rateFromMIME(blob.MIMEType), Channels: 1},
	}, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(prebuiltVoices))
	for _, v := range prebuiltVoices {
		voices = append(voices, tts.Voice{ID: v, Name: v, Provider: "gemini"})
	}
	return voices, nil
}

// firstAudio returns the first inline data part of the first candidate.
func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData
		}
	}
	return nil
}

// rateFromMIME extracts rate=N from a MIME type such as
// "audio/L16;codec=pcm;rate=24000". Missing or invalid rates yield the
// speech default.
func rateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return audio.SpeechSampleRate
}
