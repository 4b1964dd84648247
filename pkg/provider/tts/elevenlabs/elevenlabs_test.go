package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a stream-input WebSocket server that records the
// received text frames and answers with the given audio chunks.
func startServer(t *testing.T, chunks [][]byte, received chan<- []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var texts []string
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m struct {
				Text     string `json:"text"`
				XiAPIKey string `json:"xi_api_key"`
			}
			_ = json.Unmarshal(data, &m)
			texts = append(texts, m.Text)
			if m.Text == "" {
				break
			}
		}
		received <- texts

		for i, c := range chunks {
			msg, _ := json.Marshal(audioResponse{
				Audio:   base64.StdEncoding.EncodeToString(c),
				IsFinal: i == len(chunks)-1,
			})
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_InvalidOutputFormat(t *testing.T) {
	t.Parallel()
	if _, err := New("key", WithOutputFormat("ulaw_8000")); err == nil {
		t.Fatal("expected error for unsupported output format")
	}
}

func TestSpeechFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		enc     audio.Encoding
		rate    int
		wantErr bool
	}{
		{in: "pcm_24000", enc: audio.EncodingPCM16, rate: 24000},
		{in: "pcm_16000", enc: audio.EncodingPCM16, rate: 16000},
		{in: "mp3_44100_128", enc: audio.EncodingMP3},
		{in: "pcm_x", wantErr: true},
		{in: "opus_48000", wantErr: true},
	}
	for _, tt := range tests {
		enc, f, err := speechFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("speechFormat(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("speechFormat(%q): %v", tt.in, err)
			continue
		}
		if enc != tt.enc || f.SampleRate != tt.rate {
			t.Errorf("speechFormat(%q) = %s %v", tt.in, enc, f)
		}
	}
}

// ── Synthesize ────────────────────────────────────────────────────────────────

func TestSynthesize_ConcatenatesChunks(t *testing.T) {
	t.Parallel()

	received := make(chan []string, 1)
	srv := startServer(t, [][]byte{{1, 2}, {3, 4}, {5, 6}}, received)

	p, err := New("key", WithBaseURLs(wsURL(srv), srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(context.Background(), "Hallo zusammen", tts.Voice{ID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.Audio) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Audio = %v", speech.Audio)
	}
	if speech.Encoding != audio.EncodingPCM16 || speech.Format.SampleRate != 24000 {
		t.Errorf("got %s %v", speech.Encoding, speech.Format)
	}

	texts := <-received
	if len(texts) != 3 || texts[0] != " " || strings.TrimSpace(texts[1]) != "Hallo zusammen" || texts[2] != "" {
		t.Errorf("sent texts = %q", texts)
	}
}

func TestSynthesize_RequiresVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{}); err == nil {
		t.Fatal("expected error without a voice")
	}
}

// ── ListVoices ────────────────────────────────────────────────────────────────

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voicesPath || r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[
			{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american"}},
			{"voice_id":"v2","name":"Hans"}
		]}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", WithBaseURLs(wsURL(srv), srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Metadata["category"] != "premade" || voices[0].Metadata["accent"] != "american" {
		t.Errorf("metadata = %v", voices[0].Metadata)
	}
	if voices[1].Provider != "elevenlabs" {
		t.Errorf("provider = %q", voices[1].Provider)
	}
}

func TestListVoices_BadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", WithBaseURLs(wsURL(srv), srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}
