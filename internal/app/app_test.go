package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/babelcall/internal/app"
	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/orchestrator"
	trmock "github.com/MrWong99/babelcall/internal/translate/mock"
	devmock "github.com/MrWong99/babelcall/pkg/audio/device/mock"
	llmmock "github.com/MrWong99/babelcall/pkg/provider/llm/mock"
)

// testConfig returns a defaulted config for tests.
func testConfig(ui config.UIMode) *config.Config {
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0", UI: ui},
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "mock"}},
		Profile:   config.ProfileConfig{Name: "Sam", Language: chat.German},
		Audio:     config.AudioConfig{Output: config.OutputVirtual},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testOptions() []app.Option {
	return []app.Option{
		app.WithBackend(&trmock.Backend{}),
		app.WithDeviceFactory(func() (call.OutputDevice, error) {
			return &devmock.Device{AutoComplete: time.Millisecond}, nil
		}),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func TestNew_RequiresTextModel(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(config.UIWeb), &app.Providers{}); err == nil {
		t.Fatal("expected error without an LLM provider")
	}
}

func TestNew_BuildsServiceFromProviders(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(config.UIWeb),
		&app.Providers{LLM: &llmmock.Provider{}},
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application.Handler() == nil {
		t.Error("web mode has no HTTP handler")
	}
	if got := application.Directory().Local(); got.Name != "Sam" || got.Language != chat.German {
		t.Errorf("local profile = %+v", got)
	}
	if application.DemoGroup().Name != chat.DemoGroupName {
		t.Errorf("demo group = %q", application.DemoGroup().Name)
	}
}

func TestApp_RunWebAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	application, err := app.New(context.Background(), testConfig(config.UIWeb), nil,
		append(testOptions(), app.WithListener(ln))...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	var profile chat.User
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/profile")
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&profile)
			resp.Body.Close()
		}
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET /api/profile: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if profile.Name != "Sam" {
		t.Errorf("profile = %+v", profile)
	}

	if _, err := application.Calls().Start(ctx, call.StartRequest{ContactID: "u2"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if application.Calls().Active() {
		t.Error("call still active after Shutdown")
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunTUI(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(config.UITUI), nil,
		append(testOptions(), app.WithProgramOptions(tea.WithInput(nil), tea.WithOutput(io.Discard)))...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if application.Handler() != nil {
		t.Error("terminal mode serves HTTP")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !application.Calls().Active() {
		if time.Now().After(deadline) {
			t.Fatal("terminal mode did not start a call")
		}
		time.Sleep(5 * time.Millisecond)
	}
	info, _ := application.Calls().Info()
	if info.GroupID != application.DemoGroup().ID {
		t.Errorf("call group = %q, want demo group", info.GroupID)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if application.Calls().Active() {
		t.Error("call still active after Shutdown")
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	application, err := app.New(context.Background(), testConfig(config.UIWeb), nil,
		append(testOptions(), app.WithLevelVar(&level))...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	old, updated := testConfig(config.UIWeb), testConfig(config.UIWeb)
	updated.Server.LogLevel = config.LogDebug
	updated.Conversation.ReplyDelay = time.Millisecond
	application.ApplyConfig(config.Diff(old, updated))

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()

	off := false
	s := app.Settings(config.ConversationConfig{
		SentDelay:      100 * time.Millisecond,
		DeliveredDelay: 200 * time.Millisecond,
		ReplyDelay:     time.Second,
		SpeakerGrace:   time.Second,
		ReplyGrace:     2 * time.Second,
		Voice:          "Puck",
		ReplyAudio:     &off,
	})

	policy, ok := s.Policy.(orchestrator.SimulatedDelivery)
	if !ok {
		t.Fatalf("policy = %T", s.Policy)
	}
	steps := policy.Outgoing()
	if len(steps) != 2 || steps[0].Status != chat.StatusSent || steps[1].Status != chat.StatusDelivered {
		t.Errorf("steps = %+v", steps)
	}
	if steps[0].After != 100*time.Millisecond || steps[1].After != 200*time.Millisecond {
		t.Errorf("step delays = %v %v", steps[0].After, steps[1].After)
	}
	if policy.ReplyWait() != time.Second {
		t.Errorf("reply wait = %v", policy.ReplyWait())
	}
	if s.ReplyAudio || s.Voice != "Puck" || s.SpeakerGrace != time.Second || s.ReplyGrace != 2*time.Second {
		t.Errorf("settings = %+v", s)
	}

	if s := app.Settings(config.ConversationConfig{SentDelay: time.Millisecond}); len(s.Policy.Outgoing()) != 1 || !s.ReplyAudio {
		t.Errorf("without delivered delay: %+v", s)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.LogLevel(in); got != want {
			t.Errorf("LogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
