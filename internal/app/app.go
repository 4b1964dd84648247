// Package app wires all babelcall subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the configured client, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithDeviceFactory, WithListener, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/health"
	"github.com/MrWong99/babelcall/internal/media"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/orchestrator"
	"github.com/MrWong99/babelcall/internal/server"
	"github.com/MrWong99/babelcall/internal/translate"
	"github.com/MrWong99/babelcall/internal/tui"
	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/audio/device/speaker"
	"github.com/MrWong99/babelcall/pkg/audio/device/virtual"
	"github.com/MrWong99/babelcall/pkg/provider/llm"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// micBuffer is how many microphone frames the push source buffers per track.
const micBuffer = 64

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	dir       *chat.Directory
	demo      chat.Group
	service   *translate.Service
	backend   translate.Backend
	newDevice func() (call.OutputDevice, error)
	media     media.Source
	health    *health.Handler
	calls     *call.Manager
	hub       *server.Hub
	srv       *server.Server
	bridge    *tui.Bridge
	listener  net.Listener
	teaOpts   []tea.ProgramOption

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects the translation backend instead of building one from
// the providers.
func WithBackend(b translate.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithDeviceFactory injects the output device factory instead of the one
// selected by audio.output.
func WithDeviceFactory(fn func() (call.OutputDevice, error)) Option {
	return func(a *App) { a.newDevice = fn }
}

// WithMediaSource injects the microphone and camera source.
func WithMediaSource(s media.Source) Option {
	return func(a *App) { a.media = s }
}

// WithListener makes Run serve on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithLevelVar lets a config reload change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithProgramOptions passes options to the terminal client, e.g. input and
// output for tests.
func WithProgramOptions(opts ...tea.ProgramOption) Option {
	return func(a *App) { a.teaOpts = append(a.teaOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Directory ─────────────────────────────────────────────────────
	a.dir = chat.NewDirectory(chat.NewMemStore(), cfg.LocalUser(), cfg.ContactUsers())
	a.demo = a.dir.SeedDemoGroup()

	// ── 2. Translation backend ───────────────────────────────────────────
	if err := a.initBackend(); err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	// ── 3. Output device ─────────────────────────────────────────────────
	if err := a.initDevice(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 4. Client hooks ──────────────────────────────────────────────────
	var hooks call.Hooks
	if cfg.Server.UI == config.UITUI {
		a.bridge = &tui.Bridge{}
		hooks = a.bridge.Hooks()
	} else {
		a.hub = server.NewHub(a.metrics, a.log)
		hooks = a.hub.Hooks()
		if a.media == nil {
			a.media = media.NewPushSource(micBuffer)
		}
	}

	// ── 5. Call manager ──────────────────────────────────────────────────
	calls, err := call.NewManager(call.Config{
		Directory: a.dir,
		Backend:   a.backend,
		NewDevice: a.newDevice,
		Media:     a.media,
		STT:       providers.STT,
		Settings:  Settings(cfg.Conversation),
		Hooks:     hooks,
		Metrics:   a.metrics,
		Logger:    a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init calls: %w", err)
	}
	a.calls = calls

	// ── 6. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	// ── 7. HTTP server ───────────────────────────────────────────────────
	if a.hub != nil {
		var voices func(context.Context) ([]tts.Voice, error)
		if a.service != nil {
			voices = a.service.Voices
		}
		srv, err := server.New(server.Config{
			Addr:           cfg.Server.ListenAddr,
			Directory:      a.dir,
			Calls:          a.calls,
			Hub:            a.hub,
			Voices:         voices,
			Health:         a.health,
			MetricsHandler: observe.MetricsHandler(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        a.metrics,
			Logger:         a.log,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init server: %w", err)
		}
		a.srv = srv
	}

	a.log.Info("application initialised",
		"ui", cfg.Server.UI,
		"audio", cfg.Audio.Output,
		"contacts", len(a.dir.Contacts()),
		"speech_capture", providers.STT != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initBackend builds the translation service from the providers unless a
// backend was injected.
func (a *App) initBackend() error {
	if a.backend != nil {
		return nil
	}
	svc, err := translate.New(a.providers.LLM, a.providers.TTS,
		translate.WithVoice(a.cfg.Conversation.Voice),
		translate.WithTimeout(a.cfg.Conversation.RequestTimeout),
		translate.WithMetrics(a.metrics),
		translate.WithProviderNames(a.cfg.Providers.LLM.Name, a.cfg.Providers.TTS.Name),
	)
	if err != nil {
		return err
	}
	a.service = svc
	a.backend = svc
	return nil
}

// initDevice selects the output device factory from audio.output unless one
// was injected.
func (a *App) initDevice() error {
	if a.newDevice != nil {
		return nil
	}
	ac := a.cfg.Audio
	switch ac.Output {
	case config.OutputVirtual:
		a.newDevice = func() (call.OutputDevice, error) {
			return virtual.New(virtual.WithSpeed(ac.VirtualSpeed)), nil
		}
	case config.OutputOto, "":
		format := audio.Format{SampleRate: audio.SpeechSampleRate, Channels: max(ac.Channels, 1)}
		a.newDevice = func() (call.OutputDevice, error) {
			return speaker.New(speaker.WithFormat(format)), nil
		}
	default:
		return fmt.Errorf("unknown audio output %q", ac.Output)
	}
	return nil
}

// checkers returns the readiness probes of the configured backends.
func (a *App) checkers() []health.Checker {
	spoken := a.cfg.Conversation.SpokenReplies()
	return []health.Checker{
		{
			Name: "translate",
			Check: func(context.Context) error {
				if a.backend == nil {
					return errors.New("no translation backend")
				}
				return nil
			},
		},
		{
			Name: "tts",
			Check: func(context.Context) error {
				if spoken && a.service != nil && a.providers.TTS == nil {
					return translate.ErrNoSynthesizer
				}
				return nil
			},
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Calls returns the call manager.
func (a *App) Calls() *call.Manager { return a.calls }

// Directory returns the address book.
func (a *App) Directory() *chat.Directory { return a.dir }

// DemoGroup returns the group seeded at startup.
func (a *App) DemoGroup() chat.Group { return a.demo }

// Handler returns the HTTP handler, or nil in terminal mode.
func (a *App) Handler() http.Handler {
	if a.srv == nil {
		return nil
	}
	return a.srv.Handler()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the configured client until ctx is cancelled. In terminal mode
// it starts a call with the demo group and returns when the user quits.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.UI == config.UITUI {
		return a.runTUI(ctx)
	}
	if a.listener != nil {
		return a.srv.Serve(ctx, a.listener)
	}
	return a.srv.Run(ctx)
}

func (a *App) runTUI(ctx context.Context) error {
	info, err := a.calls.Start(ctx, call.StartRequest{GroupID: a.demo.ID})
	if err != nil {
		return fmt.Errorf("app: start call: %w", err)
	}
	return tui.Run(ctx, tui.Config{
		Directory: a.dir,
		Calls:     a.calls,
		Bridge:    a.bridge,
		Info:      info,
		Options:   a.teaOpts,
	})
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. The
// conversation settings take effect from the next call on.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ConversationChanged {
		a.calls.SetSettings(Settings(d.NewConversation))
		if a.service != nil {
			a.service.SetTimeout(d.NewConversation.RequestTimeout)
			if d.VoiceChanged {
				a.service.SetVoice(d.NewConversation.Voice)
			}
		}
		a.log.Info("conversation settings changed", "voice", d.NewConversation.Voice)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the active call, stops the HTTP server and closes the
// providers, in that order. It respects the context deadline: if ctx expires
// before the providers are closed, they are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if _, err := a.calls.End(ctx); err != nil && !errors.Is(err, call.ErrNoActiveCall) {
			a.log.Warn("end call error", "err", err)
		}

		if a.srv != nil {
			if err := a.srv.Shutdown(ctx); err != nil {
				a.log.Warn("server shutdown error", "err", err)
			}
		}

		for name, p := range map[string]any{"llm": a.providers.LLM, "tts": a.providers.TTS, "stt": a.providers.STT} {
			c, ok := p.(io.Closer)
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", name)
				shutdownErr = err
				return
			}
			if err := c.Close(); err != nil {
				a.log.Warn("provider close error", "kind", name, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Settings converts the conversation config into call settings.
func Settings(c config.ConversationConfig) call.Settings {
	steps := []orchestrator.Step{{Status: chat.StatusSent, After: c.SentDelay}}
	if c.DeliveredDelay > 0 {
		steps = append(steps, orchestrator.Step{Status: chat.StatusDelivered, After: c.DeliveredDelay})
	}
	return call.Settings{
		Policy:       orchestrator.SimulatedDelivery{Steps: steps, ReplyDelay: c.ReplyDelay},
		ReplyAudio:   c.SpokenReplies(),
		Voice:        c.Voice,
		SpeakerGrace: c.SpeakerGrace,
		ReplyGrace:   c.ReplyGrace,
	}
}

// LogLevel converts a config log level to a slog level.
func LogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
