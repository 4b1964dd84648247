package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ConversationChanged is true if any timing, the voice or the reply
	// audio switch changed. The new values apply from the next call on.
	ConversationChanged bool
	VoiceChanged        bool
	NewConversation     ConversationConfig

	// RestartRequired lists changed fields that only take effect after a
	// restart (e.g. "server.listen_addr", "providers").
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ConversationChanged || len(d.RestartRequired) > 0
}

// Reloadable reports whether d carries a change the running process can
// apply without a restart.
func (d ConfigDiff) Reloadable() bool {
	return d.LogLevelChanged || d.ConversationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{NewConversation: new.Conversation}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Conversation
	oc, nc := old.Conversation, new.Conversation
	if oc.Voice != nc.Voice {
		d.VoiceChanged = true
	}
	if oc.SentDelay != nc.SentDelay ||
		oc.DeliveredDelay != nc.DeliveredDelay ||
		oc.ReplyDelay != nc.ReplyDelay ||
		oc.SpeakerGrace != nc.SpeakerGrace ||
		oc.ReplyGrace != nc.ReplyGrace ||
		oc.RequestTimeout != nc.RequestTimeout ||
		oc.SpokenReplies() != nc.SpokenReplies() ||
		d.VoiceChanged {
		d.ConversationChanged = true
	}

	// Everything else needs a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.UI != new.Server.UI {
		d.RestartRequired = append(d.RestartRequired, "server.ui")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !sameContacts(old.Contacts, new.Contacts) {
		d.RestartRequired = append(d.RestartRequired, "contacts")
	}

	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.TTS, b.TTS) && sameEntry(a.STT, b.STT) &&
		sameEntries(a.Fallbacks.LLM, b.Fallbacks.LLM) &&
		sameEntries(a.Fallbacks.TTS, b.Fallbacks.TTS) &&
		sameEntries(a.Fallbacks.STT, b.Fallbacks.STT)
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model &&
		reflect.DeepEqual(a.Options, b.Options)
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameContacts(a, b []ContactConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
