// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider
// interface.
//
// One utterance is sent per connection: the handshake, the text, and an
// empty flush message. Audio chunks are concatenated until the server marks
// the stream final. The output format decides the encoding: "pcm_<rate>"
// yields raw PCM at that rate, "mp3_*" yields an MP3 stream.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultHTTPBase  = "https://api.elevenlabs.io"
	wsPathFmt        = "/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesPath       = "/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_24000",
// "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.voice = id
	}
}

// WithBaseURLs overrides the WebSocket and HTTP API roots. Used by tests.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	voice        string
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if _, _, err := speechFormat(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for a text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	id := voice.ID
	if id == "" {
		id = p.voice
	}
	if id == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.wsURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(16 << 20)

	msgs := []any{
		boiMessage{
			Text:          " ", // ElevenLabs requires a non-empty first text value
			VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
			XiAPIKey:      p.apiKey,
			OutputFormat:  p.outputFormat,
		},
		textMessage{Text: text + " "},
		textMessage{Text: ""}, // flush
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var out []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(out) > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
			}
			out = append(out, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(out) == 0 {
		return nil, errors.New("elevenlabs: no audio received")
	}
	enc, f, _ := speechFormat(p.outputFormat)
	return &tts.Speech{Audio: out, Encoding: enc, Format: f}, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toVoices(vr), nil
}

// ---- helpers ----

func (p *Provider) wsURL(voiceID string) string {
	return p.wsBase + fmt.Sprintf(wsPathFmt, voiceID, p.model)
}

func toVoices(vr voicesResponse) []tts.Voice {
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return voices
}

// speechFormat maps an ElevenLabs output format onto an encoding and, for
// PCM, the sample format.
func speechFormat(outputFormat string) (audio.Encoding, audio.Format, error) {
	kind, rest, _ := strings.Cut(outputFormat, "_")
	switch kind {
	case "pcm":
		rate, err := strconv.Atoi(rest)
		if err != nil || rate <= 0 {
			return "", audio.Format{}, fmt.Errorf("elevenlabs: invalid output format %q", outputFormat)
		}
		return audio.EncodingPCM16, audio.Format{SampleRate: rate, Channels: 1}, nil
	case "mp3":
		return audio.EncodingMP3, audio.Format{}, nil
	default:
		return "", audio.Format{}, fmt.Errorf("elevenlabs: unsupported output format %q", outputFormat)
	}
}
