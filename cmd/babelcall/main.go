// Command babelcall is the entry point for the babelcall translating call
// simulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/babelcall/internal/app"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/resilience"
	"github.com/MrWong99/babelcall/pkg/provider/llm"
	"github.com/MrWong99/babelcall/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/babelcall/pkg/provider/llm/openai"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	"github.com/MrWong99/babelcall/pkg/provider/stt/deepgram"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
	"github.com/MrWong99/babelcall/pkg/provider/tts/elevenlabs"
	geminitts "github.com/MrWong99/babelcall/pkg/provider/tts/gemini"
	oaitts "github.com/MrWong99/babelcall/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to a .env file with API keys (optional)")
	uiFlag := flag.String("ui", "", `client to run: "web" or "tui" (overrides server.ui)`)
	logPath := flag.String("log-file", "babelcall.log", "log file used by the terminal client")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "babelcall: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "babelcall: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "babelcall: %v\n", err)
		}
		return 1
	}
	if *uiFlag != "" {
		cfg.Server.UI = config.UIMode(*uiFlag)
		if !cfg.Server.UI.IsValid() {
			fmt.Fprintf(os.Stderr, "babelcall: -ui %q is invalid; valid values: web, tui\n", *uiFlag)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal client owns stdout and stderr, so it logs to a file.
	var level slog.LevelVar
	level.Set(app.LogLevel(cfg.Server.LogLevel))
	var logOut io.Writer = os.Stderr
	if cfg.Server.UI == config.UITUI {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "babelcall: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("babelcall starting",
		"version", version,
		"config", *configPath,
		"ui", cfg.Server.UI,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "babelcall",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	if cfg.Server.UI != config.UITUI {
		printStartupSummary(cfg)
	}

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(&level), app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
		application.ApplyConfig(d)
	}, config.WithLogger(logger))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	if cfg.Server.UI == config.UITUI {
		slog.Info("terminal client ready")
	} else {
		slog.Info("server ready; press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// defaultModels is used when a provider entry names no model.
var defaultModels = map[string]string{
	"gemini": "gemini-2.5-flash",
	"openai": "gpt-4o-mini",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, backend := range []string{"gemini", "openai", "anthropic", "deepseek", "mistral", "groq", "ollama"} {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(anyllm.Config{
				Backend: backend,
				Model:   modelOrDefault(entry),
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
			})
		})
	}

	// openai-sdk talks to OpenAI-compatible endpoints through the official SDK.
	reg.RegisterLLM("openai-sdk", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, modelOrDefault(config.ProviderEntry{Name: "openai", Model: entry.Model}), opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []geminitts.Option
		if entry.Model != "" {
			opts = append(opts, geminitts.WithModel(entry.Model))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, geminitts.WithDefaultVoice(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		return geminitts.New(context.Background(), entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, oaitts.WithDefaultVoice(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "tts", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Registered(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// A kind with fallbacks is wrapped in a resilience group that fails over in
// order.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fb := cfg.Providers.Fallbacks
	rcfg := resilience.FallbackConfig{}

	// LLM is required; Validate has rejected configs without it.
	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)
	ps.LLM = primaryLLM
	if len(fb.LLM) > 0 {
		group := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, rcfg)
		for _, e := range fb.LLM {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
			}
			group.AddFallback(e.Name, p)
		}
		slog.Info("provider fallbacks", "kind", "llm", "order", group.Names())
		ps.LLM = group
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		primary, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", name)
		ps.TTS = primary
		if len(fb.TTS) > 0 {
			group := resilience.NewTTSFallback(primary, name, rcfg)
			for _, e := range fb.TTS {
				p, err := reg.CreateTTS(e)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			slog.Info("provider fallbacks", "kind", "tts", "order", group.Names())
			ps.TTS = group
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		primary, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", name)
		ps.STT = primary
		if len(fb.STT) > 0 {
			group := resilience.NewSTTFallback(primary, name, rcfg)
			for _, e := range fb.STT {
				p, err := reg.CreateSTT(e)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, p)
			}
			ps.STT = group
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        babelcall: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printRow("Profile", fmt.Sprintf("%s (%s)", cfg.Profile.Name, cfg.Profile.Language))
	printRow("Audio output", string(cfg.Audio.Output))
	if len(cfg.Contacts) > 0 {
		printRow("Contacts", fmt.Sprint(len(cfg.Contacts)))
	} else {
		printRow("Contacts", "(built-in)")
	}
	if cfg.Conversation.SpokenReplies() {
		printRow("Reply audio", "on")
	} else {
		printRow("Reply audio", "off")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// modelOrDefault returns the entry's model or the default for its provider.
func modelOrDefault(entry config.ProviderEntry) string {
	if entry.Model != "" {
		return entry.Model
	}
	return defaultModels[entry.Name]
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
