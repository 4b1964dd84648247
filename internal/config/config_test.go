package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/pkg/provider/llm"
	llmmock "github.com/MrWong99/babelcall/pkg/provider/llm/mock"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelcall/pkg/provider/stt/mock"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelcall/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  ui: tui
  allowed_origins: ["http://localhost:5173"]

providers:
  llm:
    name: gemini
    api_key: gm-test
    model: gemini-2.5-flash
  tts:
    name: gemini
    api_key: gm-test
    options:
      voice: Fenrir
  stt:
    name: deepgram
    api_key: dg-test
  fallbacks:
    llm:
      - name: openai
        api_key: sk-test
        model: gpt-4o-mini

profile:
  name: Sam
  avatar: "🦊"
  language: spansh

audio:
  output: virtual
  channels: 2
  virtual_speed: 4

conversation:
  sent_delay: 250ms
  delivered_delay: 1s
  reply_delay: 3s
  speaker_grace: 2s
  reply_grace: 500ms
  voice: Fenrir
  reply_audio: false
  request_timeout: 10s

contacts:
  - name: Alice
    language: es-ES
  - id: kenji
    name: Kenji
    avatar: "🧑‍🍳"
    language: japanes
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.UI != config.UITUI {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Providers.LLM.Name != "gemini" || cfg.Providers.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("providers.llm = %+v", cfg.Providers.LLM)
	}
	if v, _ := cfg.Providers.TTS.Options["voice"].(string); v != "Fenrir" {
		t.Errorf("providers.tts.options.voice = %v", cfg.Providers.TTS.Options["voice"])
	}
	if fb := cfg.Providers.Fallbacks.LLM; len(fb) != 1 || fb[0].Name != "openai" {
		t.Errorf("fallbacks.llm = %+v", fb)
	}
	if cfg.Profile.Language != chat.Spanish {
		t.Errorf("profile.language = %q, want %q", cfg.Profile.Language, chat.Spanish)
	}
	if cfg.Audio.Output != config.OutputVirtual || cfg.Audio.Channels != 2 || cfg.Audio.VirtualSpeed != 4 {
		t.Errorf("audio = %+v", cfg.Audio)
	}

	c := cfg.Conversation
	if c.SentDelay != 250*time.Millisecond || c.DeliveredDelay != time.Second || c.ReplyDelay != 3*time.Second {
		t.Errorf("delays = %v %v %v", c.SentDelay, c.DeliveredDelay, c.ReplyDelay)
	}
	if c.SpeakerGrace != 2*time.Second || c.ReplyGrace != 500*time.Millisecond || c.RequestTimeout != 10*time.Second {
		t.Errorf("graces = %v %v timeout %v", c.SpeakerGrace, c.ReplyGrace, c.RequestTimeout)
	}
	if c.Voice != "Fenrir" || c.SpokenReplies() {
		t.Errorf("voice %q spoken %v", c.Voice, c.SpokenReplies())
	}

	if len(cfg.Contacts) != 2 || cfg.Contacts[1].Language != chat.Japanese {
		t.Errorf("contacts = %+v", cfg.Contacts)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "providers:\n  llm:\n    name: gemini\n")

	if cfg.Server.ListenAddr != config.DefaultListenAddr || cfg.Server.LogLevel != config.LogInfo || cfg.Server.UI != config.UIWeb {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Profile.Name != config.DefaultProfileName || cfg.Profile.Language != chat.English {
		t.Errorf("profile defaults = %+v", cfg.Profile)
	}
	if cfg.Audio.Output != config.OutputOto || cfg.Audio.Channels != 1 || cfg.Audio.VirtualSpeed != 1 {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
	c := cfg.Conversation
	if c.SentDelay != config.DefaultSentDelay || c.ReplyDelay != config.DefaultReplyDelay ||
		c.SpeakerGrace != config.DefaultSpeakerGrace || c.ReplyGrace != config.DefaultReplyGrace ||
		c.RequestTimeout != config.DefaultRequestTimeout {
		t.Errorf("conversation defaults = %+v", c)
	}
	if c.DeliveredDelay != 0 {
		t.Errorf("delivered_delay = %v, want disabled", c.DeliveredDelay)
	}
	if !c.SpokenReplies() {
		t.Error("replies should be spoken by default")
	}
}

func TestLoadFromReader_EmptyNeedsLLM(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "providers.llm") {
		t.Fatalf("err = %v, want providers.llm error", err)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: gemini\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadFromReader_UnknownLanguage(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: gemini\nprofile:\n  language: Klingon\n"))
	if !errors.Is(err, chat.ErrUnknownLanguage) {
		t.Fatalf("err = %v, want ErrUnknownLanguage", err)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("BABELCALL_TEST_KEY", "secret-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "providers:\n  llm:\n    name: gemini\n    api_key: ${BABELCALL_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "secret-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.LLM.APIKey)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Providers.LLM.Name != "gemini" || cfg.Conversation.Voice != "Fenrir" {
		t.Errorf("providers = %+v, voice = %q", cfg.Providers.LLM, cfg.Conversation.Voice)
	}
	if len(cfg.Contacts) != 3 || cfg.Contacts[2].Language != chat.Tagalog {
		t.Errorf("contacts = %+v", cfg.Contacts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

// ── Conversions ──────────────────────────────────────────────────────────────

func TestConfig_Users(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	local := cfg.LocalUser()
	if local.ID != "u1" || local.Name != "Sam" || local.Language != chat.Spanish {
		t.Errorf("LocalUser = %+v", local)
	}

	users := cfg.ContactUsers()
	if len(users) != 2 || users[0].Name != "Alice" || users[1].ID != "kenji" {
		t.Errorf("ContactUsers = %+v", users)
	}

	cfg.Contacts = nil
	if got := cfg.ContactUsers(); len(got) != len(chat.DefaultContacts()) {
		t.Errorf("default contacts = %d", len(got))
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	_, errLLM := reg.CreateLLM(entry)
	_, errTTS := reg.CreateTTS(entry)
	_, errSTT := reg.CreateSTT(entry)
	for kind, err := range map[string]error{"llm": errLLM, "tts": errTTS, "stt": errSTT} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: expected ErrProviderNotRegistered, got: %v", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantLLM := &llmmock.Provider{}
	wantTTS := &ttsmock.Provider{}
	wantSTT := &sttmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterLLM("another", func(config.ProviderEntry) (llm.Provider, error) { return wantLLM, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })

	l, err := reg.CreateLLM(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil || l != wantLLM {
		t.Errorf("CreateLLM = %v, %v", l, err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry = %+v", gotEntry)
	}
	if s, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"}); err != nil || s != wantTTS {
		t.Errorf("CreateTTS = %v, %v", s, err)
	}
	if s, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"}); err != nil || s != wantSTT {
		t.Errorf("CreateSTT = %v, %v", s, err)
	}

	if got := reg.Registered("llm"); len(got) != 2 || got[0] != "another" || got[1] != "stub" {
		t.Errorf("Registered(llm) = %v", got)
	}
	if got := reg.Registered("vad"); got != nil {
		t.Errorf("Registered(vad) = %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	factoryErr := errors.New("bad api key")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, factoryErr
	})
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"}); !errors.Is(err, factoryErr) {
		t.Errorf("err = %v, want factory error", err)
	}
}
