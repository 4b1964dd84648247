// Package capture turns the local participant's microphone track into
// transcript events.
//
// A [Recognizer] runs one streaming speech-to-text session at a time. Interim
// hypotheses replace each other wholesale; final transcripts are appended and
// handed to [Handlers.OnFinal], which is where a conversation turn starts.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/babelcall/internal/media"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// DefaultSampleRate is the rate of the PCM16 mono frames clients push.
const DefaultSampleRate = 16000

// Handlers receive transcript events. Both are optional and are called from
// the recognizer's goroutines without locks held. They must not call
// [Recognizer.Stop] or [Recognizer.SetLanguage].
type Handlers struct {
	// OnInterim receives the current interim hypothesis. An empty string
	// means the interim line was cleared.
	OnInterim func(text string)

	// OnFinal receives each final transcript, trimmed and non-empty.
	OnFinal func(text string)
}

// Config configures a [Recognizer].
type Config struct {
	Provider stt.Provider

	// Track supplies PCM16 mono frames. A nil track means audio never
	// reaches the provider and only [Recognizer.Submit] produces finals.
	Track *media.Track

	// Language is the BCP-47 recognition language.
	Language string

	// SampleRate of the frames on Track. Defaults to [DefaultSampleRate].
	SampleRate int

	Handlers Handlers
	Logger   *slog.Logger
}

// Recognizer is a restartable speech capture. All methods are safe for
// concurrent use.
type Recognizer struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	language string
	sess     *session
	interim  string
	finals   []string
}

// session is one provider stream with the goroutines serving it.
type session struct {
	handle stt.SessionHandle
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a recognizer that is not listening yet.
func New(cfg Config) *Recognizer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Recognizer{cfg: cfg, log: log, language: cfg.Language}
}

// Start opens a recognition session. It is a no-op while already listening.
// The session runs until [Recognizer.Stop] or until the provider ends it; ctx
// only bounds opening the stream.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return nil
	}
	if r.cfg.Provider == nil {
		return fmt.Errorf("capture: no speech provider configured")
	}

	h, err := r.cfg.Provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: r.cfg.SampleRate,
		Channels:   1,
		Language:   r.language,
	})
	if err != nil {
		return fmt.Errorf("capture: start stream: %w", err)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{handle: h, cancel: cancel}
	r.sess = s

	if r.cfg.Track != nil {
		s.wg.Add(1)
		go r.pump(sctx, s)
	}
	s.wg.Add(1)
	go r.listen(s)

	r.log.Debug("capture: listening", "language", r.language)
	return nil
}

// Stop ends the running session and clears the interim line. It is a no-op
// when not listening.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	s := r.sess
	r.sess = nil
	cleared := r.interim != ""
	r.interim = ""
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	err := r.end(s)
	if cleared {
		r.emitInterim("")
	}
	return err
}

// SetLanguage changes the recognition language. A running session is
// restarted with the new language.
func (r *Recognizer) SetLanguage(ctx context.Context, tag string) error {
	r.mu.Lock()
	if tag == r.language {
		r.mu.Unlock()
		return nil
	}
	r.language = tag
	running := r.sess != nil
	r.mu.Unlock()

	if !running {
		return nil
	}
	if err := r.Stop(); err != nil {
		r.log.Warn("capture: stop before language change", "err", err)
	}
	return r.Start(ctx)
}

// Language returns the recognition language.
func (r *Recognizer) Language() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.language
}

// Listening reports whether a session is running.
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// Interim returns the current interim hypothesis.
func (r *Recognizer) Interim() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interim
}

// Finals returns every final transcript so far, oldest first.
func (r *Recognizer) Finals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.finals...)
}

// Submit records text as a final transcript as if it had been spoken. Blank
// text is ignored.
func (r *Recognizer) Submit(text string) {
	r.final(text)
}

func (r *Recognizer) end(s *session) error {
	s.cancel()
	err := s.handle.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	return nil
}

// pump forwards track frames to the provider until the session ends or the
// track is stopped.
func (r *Recognizer) pump(ctx context.Context, s *session) {
	defer s.wg.Done()
	frames := r.cfg.Track.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := s.handle.SendAudio(f); err != nil {
				r.log.Debug("capture: send audio", "err", err)
				return
			}
		}
	}
}

// listen dispatches transcripts until the provider closes both channels.
func (r *Recognizer) listen(s *session) {
	defer s.wg.Done()
	partials, finals := s.handle.Partials(), s.handle.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.partial(s, t.Text)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			r.final(t.Text)
		}
	}

	// The provider ended the stream on its own: stop listening like a
	// browser recognizer firing onend.
	r.mu.Lock()
	unexpected := r.sess == s
	if unexpected {
		r.sess = nil
	}
	r.mu.Unlock()
	if unexpected {
		r.log.Warn("capture: recognition stream ended")
		s.cancel()
		_ = s.handle.Close()
	}
}

func (r *Recognizer) partial(s *session, text string) {
	r.mu.Lock()
	if r.sess != s || text == r.interim {
		r.mu.Unlock()
		return
	}
	r.interim = text
	r.mu.Unlock()
	r.emitInterim(text)
}

func (r *Recognizer) final(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.mu.Lock()
	r.finals = append(r.finals, text)
	cleared := r.interim != ""
	r.interim = ""
	r.mu.Unlock()

	if cleared {
		r.emitInterim("")
	}
	if r.cfg.Handlers.OnFinal != nil {
		r.cfg.Handlers.OnFinal(text)
	}
}

func (r *Recognizer) emitInterim(text string) {
	if r.cfg.Handlers.OnInterim != nil {
		r.cfg.Handlers.OnInterim(text)
	}
}
