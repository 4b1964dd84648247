package translate

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/pkg/provider/llm"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ Backend = (*Service)(nil)

// ErrNoSynthesizer is wrapped by [Service.Synthesize] when the service was
// built without a TTS provider.
var ErrNoSynthesizer = errors.New("translate: no speech provider configured")

const (
	defaultTimeout  = 20 * time.Second
	kindTranslate   = "translate"
	kindReply       = "reply"
	kindSynthesize  = "synthesize"
	replyMaxTokens  = 256
	replyTemperature = 0.9
)

// Option configures a [Service].
type Option func(*Service)

// WithVoice sets the default synthesis voice.
func WithVoice(voice string) Option {
	return func(s *Service) {
		s.voice = voice
	}
}

// WithTimeout bounds every backend call. Zero disables the per-call limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithMetrics records backend calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithProviderNames sets the provider names reported in metrics and spans.
func WithProviderNames(llmName, ttsName string) Option {
	return func(s *Service) {
		if llmName != "" {
			s.llmName = llmName
		}
		if ttsName != "" {
			s.ttsName = ttsName
		}
	}
}

// Service implements [Backend] with a text model and a speech provider.
type Service struct {
	llm     llm.Provider
	tts     tts.Provider
	timeout time.Duration
	metrics *observe.Metrics
	llmName string
	ttsName string

	mu    sync.RWMutex
	voice string
}

// New creates a service. textModel is required; speech may be nil, in which
// case every synthesis fails with [ErrNoSynthesizer].
func New(textModel llm.Provider, speech tts.Provider, opts ...Option) (*Service, error) {
	if textModel == nil {
		return nil, errors.New("translate: text model must not be nil")
	}
	s := &Service{
		llm:     textModel,
		tts:     speech,
		timeout: defaultTimeout,
		llmName: "llm",
		ttsName: "tts",
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Voice returns the current default voice.
func (s *Service) Voice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voice
}

// SetVoice changes the default voice for subsequent syntheses.
func (s *Service) SetVoice(voice string) {
	s.mu.Lock()
	s.voice = voice
	s.mu.Unlock()
}

// SetTimeout changes the per-request timeout for subsequent calls. Zero or
// negative disables it.
func (s *Service) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// Voices lists the voices of the speech provider.
func (s *Service) Voices(ctx context.Context) ([]tts.Voice, error) {
	if s.tts == nil {
		return nil, ErrNoSynthesizer
	}
	return s.tts.ListVoices(ctx)
}

// Translate implements [Backend].
func (s *Service) Translate(ctx context.Context, text string, target chat.Language) (string, error) {
	ctx, span := observe.StartSpan(ctx, "translate.Translate",
		trace.WithAttributes(attribute.String("target", target.String())))
	start := time.Now()

	out, err := s.complete(ctx, kindTranslate, llm.UserPrompt(translatePrompt(text, target)))
	if err != nil {
		err = &TranslationError{Op: kindTranslate, Target: target, Err: err}
	}
	s.observeDuration(ctx, kindTranslate, start, err)
	observe.EndSpan(span, err)
	return out, err
}

// GenerateReply implements [Backend].
func (s *Service) GenerateReply(ctx context.Context, lastMessage, persona string, lang chat.Language) (string, error) {
	ctx, span := observe.StartSpan(ctx, "translate.GenerateReply",
		trace.WithAttributes(
			attribute.String("persona", persona),
			attribute.String("language", lang.String()),
		))
	start := time.Now()

	req := llm.UserPrompt(replyPrompt(lastMessage, persona, lang))
	req.Temperature = replyTemperature
	req.MaxTokens = replyMaxTokens

	out, err := s.complete(ctx, kindReply, req)
	if err != nil {
		err = &TranslationError{Op: kindReply, Target: lang, Err: err}
	}
	s.observeDuration(ctx, kindReply, start, err)
	observe.EndSpan(span, err)
	return out, err
}

// Synthesize implements [Backend].
func (s *Service) Synthesize(ctx context.Context, text, voice string) (*Speech, error) {
	if voice == "" {
		voice = s.Voice()
	}
	ctx, span := observe.StartSpan(ctx, "translate.Synthesize",
		trace.WithAttributes(attribute.String("voice", voice)))
	start := time.Now()

	sp, err := s.synthesize(ctx, text, voice)
	if err != nil {
		err = &SynthesisError{Voice: voice, Err: err}
	}
	s.observeDuration(ctx, kindSynthesize, start, err)
	observe.EndSpan(span, err)
	return sp, err
}

// TranslateAndSynthesize implements [Backend].
func (s *Service) TranslateAndSynthesize(ctx context.Context, text string, target chat.Language, wantAudio bool) (*Result, error) {
	translated, err := s.Translate(ctx, text, target)
	if err != nil {
		return nil, err
	}
	res := &Result{TranslatedText: translated}
	if !wantAudio {
		return res, nil
	}

	sp, err := s.Synthesize(ctx, translated, "")
	if err != nil {
		observe.Logger(ctx).Warn("translate: synthesis failed, returning text only",
			"target", target.String(),
			"err", err,
		)
		return res, nil
	}
	res.Audio = sp
	return res, nil
}

func (s *Service) complete(ctx context.Context, kind string, req llm.CompletionRequest) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.llm.Complete(ctx, req)
	s.recordRequest(ctx, s.llmName, kind, err)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", ErrNoResult
	}
	out := cleanOutput(resp.Content)
	if out == "" {
		return "", ErrNoResult
	}
	return out, nil
}

func (s *Service) synthesize(ctx context.Context, text, voice string) (*Speech, error) {
	if s.tts == nil {
		return nil, ErrNoSynthesizer
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoResult
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sp, err := s.tts.Synthesize(ctx, text, tts.Voice{ID: voice})
	s.recordRequest(ctx, s.ttsName, kindSynthesize, err)
	if err != nil {
		return nil, err
	}
	if sp == nil || len(sp.Audio) == 0 {
		return nil, ErrNoResult
	}
	return &Speech{
		Data:     base64.StdEncoding.EncodeToString(sp.Audio),
		Encoding: sp.Encoding,
		Format:   sp.Format,
	}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.RLock()
	d := s.timeout
	s.mu.RUnlock()
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) recordRequest(ctx context.Context, provider, kind string, err error) {
	if s.metrics == nil {
		return
	}
	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
		s.metrics.RecordProviderError(ctx, provider, kind)
	}
	s.metrics.RecordProviderRequest(ctx, provider, kind, status)
}

func (s *Service) observeDuration(ctx context.Context, kind string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
	}
	opt := metric.WithAttributes(attribute.String("status", status))
	elapsed := time.Since(start).Seconds()
	switch kind {
	case kindTranslate:
		s.metrics.TranslateDuration.Record(ctx, elapsed, opt)
	case kindReply:
		s.metrics.ReplyDuration.Record(ctx, elapsed, opt)
	case kindSynthesize:
		s.metrics.SynthesizeDuration.Record(ctx, elapsed, opt)
	}
}
