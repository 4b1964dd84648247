// Package openai provides a tts.Provider backed by the OpenAI speech API
// (POST /audio/speech). Audio is requested as raw PCM: 16-bit little-endian,
// 24 kHz mono, which the decoder plays without transcoding.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
)

var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g. "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(v string) Option {
	return func(p *Provider) {
		if v != "" {
			p.voice = v
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
	}
}

// WithMaxRetries sets how often the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithMaxRetries(n))
	}
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client  oai.Client
	model   string
	voice   string
	reqOpts []option.RequestOption
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		model:   defaultModel,
		voice:   defaultVoice,
		reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)},
	}
	for _, o := range opts {
		o(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai: text must not be empty")
	}
	v := voice.ID
	if v == "" {
		v = p.voice
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("openai: empty speech response")
	}
	return &tts.Speech{Audio: pcm, Encoding: audio.EncodingPCM16, Format: audio.SpeechFormat}, nil
}

// ListVoices implements tts.Provider. The speech API has no voice listing
// endpoint, so the built-in catalogue is returned.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	voices := make([]tts.Voice, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		voices = append(voices, tts.Voice{ID: v, Name: v, Provider: "openai"})
	}
	return voices, nil
}
