package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	pcm := []byte{0, 1, 0, 2, 0, 3}
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", WithBaseURL(srv.URL+"/"), WithMaxRetries(0), WithDefaultVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(context.Background(), "Bonjour", tts.Voice{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.Audio) != string(pcm) {
		t.Errorf("Audio = %v, want %v", speech.Audio, pcm)
	}
	if speech.Format != audio.SpeechFormat || speech.Encoding != audio.EncodingPCM16 {
		t.Errorf("got %s %v", speech.Encoding, speech.Format)
	}
	if body["voice"] != "nova" || body["response_format"] != "pcm" || body["input"] != "Bonjour" {
		t.Errorf("request body = %v", body)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test")
	if _, err := p.Synthesize(context.Background(), "", tts.Voice{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p, _ := New("sk-test")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != len(builtinVoices) {
		t.Errorf("got %d voices, want %d", len(voices), len(builtinVoices))
	}
}
