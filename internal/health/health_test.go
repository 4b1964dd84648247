package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func serve(t *testing.T, h http.HandlerFunc, r *http.Request) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, r)
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "llm", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h.Healthz, httptest.NewRequest("GET", "/healthz", nil))

	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok regardless of checkers", code, body.Status)
	}
	if body.Uptime == "" {
		t.Error("uptime missing")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "llm", Check: ok}, {Name: "tts", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"llm": "ok", "tts": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "llm", Check: ok},
				{Name: "audio", Check: func(context.Context) error { return errors.New("no output device") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"llm": "ok", "audio": "fail: no output device"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := serve(t, New(tt.checkers...).Readyz, httptest.NewRequest("GET", "/readyz", nil))
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %q = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	slow := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	code, _ := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil))
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want checks to overlap", peak.Load())
	}
}

func TestAdd(t *testing.T) {
	t.Parallel()

	h := New()
	h.Add(Checker{Name: "audio", Check: func(context.Context) error { return errors.New("closed") }})

	code, body := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil))
	if code != http.StatusServiceUnavailable || body.Checks["audio"] != "fail: closed" {
		t.Errorf("got %d %+v", code, body)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _ := serve(t, h.Readyz, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}
