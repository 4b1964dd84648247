// Package config provides the configuration schema, loader, and provider registry
// for babelcall.
package config

import (
	"time"

	"github.com/MrWong99/babelcall/internal/chat"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// UIMode selects the client surface.
type UIMode string

const (
	// UIWeb serves the HTTP API and event socket for a browser client.
	UIWeb UIMode = "web"

	// UITUI runs the terminal client in the foreground.
	UITUI UIMode = "tui"
)

// IsValid reports whether u is a recognised UI mode.
func (u UIMode) IsValid() bool {
	return u == UIWeb || u == UITUI
}

// Output selects the audio output device.
type Output string

const (
	// OutputOto plays through the system speaker.
	OutputOto Output = "oto"

	// OutputVirtual paces playback on a clock without producing sound.
	OutputVirtual Output = "virtual"
)

// IsValid reports whether o is a recognised output device.
func (o Output) IsValid() bool {
	return o == OutputOto || o == OutputVirtual
}

// Config is the root configuration structure for babelcall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Profile      ProfileConfig      `yaml:"profile"`
	Audio        AudioConfig        `yaml:"audio"`
	Conversation ConversationConfig `yaml:"conversation"`
	Contacts     []ContactConfig    `yaml:"contacts"`
}

// ServerConfig holds network, logging and client settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// UI selects the web or terminal client.
	UI UIMode `yaml:"ui"`

	// AllowedOrigins lists the browser origins accepted on the event socket.
	// Empty accepts every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig declares which provider implementation to use for each
// backend. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	STT ProviderEntry `yaml:"stt"`

	// Fallbacks are tried in order when the primary provider of the same
	// kind fails.
	Fallbacks FallbacksConfig `yaml:"fallbacks"`
}

// FallbacksConfig lists secondary providers per kind.
type FallbacksConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	TTS []ProviderEntry `yaml:"tts"`
	STT []ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-2.5-flash").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ProfileConfig is the local user's profile at startup.
type ProfileConfig struct {
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar"`

	// Language accepts display names, BCP-47 tags and near-miss spellings.
	Language chat.Language `yaml:"language"`
}

// AudioConfig selects and tunes the output device.
type AudioConfig struct {
	Output Output `yaml:"output"`

	// Channels is the device channel count. Speech is mono and is
	// up-mixed when the device has more channels.
	Channels int `yaml:"channels"`

	// VirtualSpeed scales the pacing of the virtual device. 2 plays twice
	// as fast as real time.
	VirtualSpeed float64 `yaml:"virtual_speed"`
}

// ConversationConfig tunes the simulated conversation. Every field is
// hot-reloadable and applies from the next call on.
type ConversationConfig struct {
	// SentDelay is how long an outgoing message stays in "sending".
	SentDelay time.Duration `yaml:"sent_delay"`

	// DeliveredDelay, when positive, advances the message to "delivered"
	// that long after it was sent.
	DeliveredDelay time.Duration `yaml:"delivered_delay"`

	// ReplyDelay is how long the peer waits before answering.
	ReplyDelay time.Duration `yaml:"reply_delay"`

	// SpeakerGrace and ReplyGrace keep the speaking indicator lit after
	// an utterance or reply.
	SpeakerGrace time.Duration `yaml:"speaker_grace"`
	ReplyGrace   time.Duration `yaml:"reply_grace"`

	// Voice is the synthesis voice. Empty selects the provider default.
	Voice string `yaml:"voice"`

	// ReplyAudio requests spoken replies. Defaults to true.
	ReplyAudio *bool `yaml:"reply_audio"`

	// RequestTimeout bounds each translation, reply or synthesis call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SpokenReplies reports whether replies are synthesized.
func (c ConversationConfig) SpokenReplies() bool {
	return c.ReplyAudio == nil || *c.ReplyAudio
}

// ContactConfig is one entry of the address book.
type ContactConfig struct {
	// ID is optional; contacts without one are numbered by position.
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Avatar   string        `yaml:"avatar"`
	Language chat.Language `yaml:"language"`
}

// LocalUser returns the profile as a chat participant.
func (c *Config) LocalUser() chat.User {
	return chat.User{
		ID:       "u1",
		Name:     c.Profile.Name,
		Avatar:   c.Profile.Avatar,
		Language: c.Profile.Language,
	}
}

// ContactUsers returns the configured contacts, or the built-in address book
// when none are configured.
func (c *Config) ContactUsers() []chat.User {
	if len(c.Contacts) == 0 {
		return chat.DefaultContacts()
	}
	users := make([]chat.User, len(c.Contacts))
	for i, cc := range c.Contacts {
		users[i] = chat.User{ID: cc.ID, Name: cc.Name, Avatar: cc.Avatar, Language: cc.Language}
	}
	return users
}
