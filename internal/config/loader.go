package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/babelcall/internal/chat"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "openai-sdk", "anthropic", "ollama", "deepseek", "mistral", "groq"},
	"tts": {"gemini", "openai", "elevenlabs"},
	"stt": {"deepgram"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultProfileName    = "You"
	DefaultSentDelay      = 500 * time.Millisecond
	DefaultReplyDelay     = 2 * time.Second
	DefaultSpeakerGrace   = 1500 * time.Millisecond
	DefaultReplyGrace     = time.Second
	DefaultRequestTimeout = 20 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// ${VAR} references in the file are expanded from the environment before
// decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.UI == "" {
		cfg.Server.UI = UIWeb
	}

	if cfg.Profile.Name == "" {
		cfg.Profile.Name = DefaultProfileName
	}
	if cfg.Profile.Language == "" {
		cfg.Profile.Language = chat.English
	}

	if cfg.Audio.Output == "" {
		cfg.Audio.Output = OutputOto
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.VirtualSpeed == 0 {
		cfg.Audio.VirtualSpeed = 1
	}

	c := &cfg.Conversation
	if c.SentDelay == 0 {
		c.SentDelay = DefaultSentDelay
	}
	if c.ReplyDelay == 0 {
		c.ReplyDelay = DefaultReplyDelay
	}
	if c.SpeakerGrace == 0 {
		c.SpeakerGrace = DefaultSpeakerGrace
	}
	if c.ReplyGrace == 0 {
		c.ReplyGrace = DefaultReplyGrace
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.UI != "" && !cfg.Server.UI.IsValid() {
		errs = append(errs, fmt.Errorf("server.ui %q is invalid; valid values: web, tui", cfg.Server.UI))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required: translation and replies need a text model"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for kind, entries := range map[string][]ProviderEntry{
		"llm": cfg.Providers.Fallbacks.LLM,
		"tts": cfg.Providers.Fallbacks.TTS,
		"stt": cfg.Providers.Fallbacks.STT,
	} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.fallbacks.%s[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}
	if cfg.Providers.TTS.Name == "" && cfg.Conversation.SpokenReplies() {
		slog.Warn("no TTS provider configured; replies will be text only")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; speech capture is disabled and only typed messages are sent")
	}

	// Profile
	if cfg.Profile.Language != "" && !cfg.Profile.Language.Valid() {
		errs = append(errs, fmt.Errorf("profile.language %q is not supported", cfg.Profile.Language))
	}

	// Audio
	if cfg.Audio.Output != "" && !cfg.Audio.Output.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output %q is invalid; valid values: oto, virtual", cfg.Audio.Output))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.VirtualSpeed < 0 {
		errs = append(errs, fmt.Errorf("audio.virtual_speed %.2f must not be negative", cfg.Audio.VirtualSpeed))
	}

	// Conversation
	for name, d := range map[string]time.Duration{
		"sent_delay":      cfg.Conversation.SentDelay,
		"delivered_delay": cfg.Conversation.DeliveredDelay,
		"reply_delay":     cfg.Conversation.ReplyDelay,
		"speaker_grace":   cfg.Conversation.SpeakerGrace,
		"reply_grace":     cfg.Conversation.ReplyGrace,
		"request_timeout": cfg.Conversation.RequestTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("conversation.%s %s must not be negative", name, d))
		}
	}

	// Contacts
	idsSeen := map[string]int{"u1": -1}
	for i, c := range cfg.Contacts {
		prefix := fmt.Sprintf("contacts[%d]", i)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if !c.Language.Valid() {
			errs = append(errs, fmt.Errorf("%s.language is required", prefix))
		}
		if c.ID == "" {
			continue
		}
		if prev, ok := idsSeen[c.ID]; ok {
			if prev < 0 {
				errs = append(errs, fmt.Errorf("%s.id %q is reserved for the local profile", prefix, c.ID))
			} else {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of contacts[%d]", prefix, c.ID, prev))
			}
			continue
		}
		idsSeen[c.ID] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
