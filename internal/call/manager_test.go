package call_test

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/media"
	"github.com/MrWong99/babelcall/internal/orchestrator"
	"github.com/MrWong99/babelcall/internal/translate"
	trmock "github.com/MrWong99/babelcall/internal/translate/mock"
	"github.com/MrWong99/babelcall/pkg/audio"
	devmock "github.com/MrWong99/babelcall/pkg/audio/device/mock"
	sttmock "github.com/MrWong99/babelcall/pkg/provider/stt/mock"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type env struct {
	dir     *chat.Directory
	backend *trmock.Backend
	stt     *sttmock.Provider
	source  *media.PushSource
	mgr     *call.Manager

	mu      sync.Mutex
	devices []*devmock.Device
	states  []orchestrator.IndicatorState
	interim []string
}

func newEnv(t *testing.T, mod func(*call.Config)) *env {
	t.Helper()
	e := &env{
		dir: chat.NewDirectory(chat.NewMemStore(),
			chat.User{Name: "You", Language: chat.English}, chat.DefaultContacts()),
		backend: &trmock.Backend{SpeechResult: &translate.Speech{
			Data:     base64.StdEncoding.EncodeToString(make([]byte, 8)),
			Encoding: audio.EncodingPCM16,
			Format:   audio.SpeechFormat,
		}},
		stt:    &sttmock.Provider{},
		source: media.NewPushSource(8),
	}
	cfg := call.Config{
		Directory: e.dir,
		Backend:   e.backend,
		Media:     e.source,
		STT:       e.stt,
		NewDevice: func() (call.OutputDevice, error) {
			d := &devmock.Device{AutoComplete: 2 * time.Millisecond}
			e.mu.Lock()
			e.devices = append(e.devices, d)
			e.mu.Unlock()
			return d, nil
		},
		Settings: call.Settings{
			Policy:       orchestrator.InstantDelivery{},
			ReplyAudio:   true,
			SpeakerGrace: 5 * time.Millisecond,
			ReplyGrace:   5 * time.Millisecond,
		},
		Hooks: call.Hooks{
			OnIndicator: func(s orchestrator.IndicatorState) {
				e.mu.Lock()
				e.states = append(e.states, s)
				e.mu.Unlock()
			},
			OnInterim: func(text string) {
				e.mu.Lock()
				e.interim = append(e.interim, text)
				e.mu.Unlock()
			},
		},
	}
	if mod != nil {
		mod(&cfg)
	}
	mgr, err := call.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	e.mgr = mgr
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = mgr.End(ctx)
	})
	return e
}

func (e *env) device(t *testing.T) *devmock.Device {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.devices) == 0 {
		t.Fatal("no device created")
	}
	return e.devices[len(e.devices)-1]
}

func (e *env) messages(t *testing.T, groupID string) []chat.Message {
	t.Helper()
	g, err := e.dir.Store().Group(groupID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	return g.Messages
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()
	if _, err := call.NewManager(call.Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestStartEnd(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	if e.mgr.Active() {
		t.Fatal("active before Start")
	}
	info, err := e.mgr.Start(ctx, call.StartRequest{ContactID: "u2"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.SessionID == "" || info.Peer.Name != "Alice" || info.GroupName != "Alice" {
		t.Errorf("info = %+v", info)
	}
	if !info.Mic || info.Video || !info.Listening || !info.Speaker {
		t.Errorf("media state = %+v", info)
	}
	if !slices.Equal(info.Media, []media.Kind{media.KindVideo}) {
		t.Errorf("unavailable media = %v, want [video]", info.Media)
	}
	if !e.mgr.Active() {
		t.Fatal("not active after Start")
	}
	if got, ok := e.mgr.Info(); !ok || got.SessionID != info.SessionID {
		t.Errorf("Info = %+v, %v", got, ok)
	}

	if _, err := e.mgr.Start(ctx, call.StartRequest{ContactID: "u3"}); !errors.Is(err, call.ErrCallActive) {
		t.Errorf("second Start error = %v, want ErrCallActive", err)
	}

	ended, err := e.mgr.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.SessionID != info.SessionID {
		t.Errorf("ended session %q, want %q", ended.SessionID, info.SessionID)
	}
	if e.mgr.Active() {
		t.Error("still active after End")
	}
	if _, ok := e.mgr.Info(); ok {
		t.Error("Info reports a call after End")
	}
	if _, _, closed := e.device(t).Calls(); closed != 1 {
		t.Errorf("device closed %d times, want 1", closed)
	}
	if sess := e.stt.LastSession(); sess == nil || !sess.Closed() {
		t.Error("recognition session not closed")
	}

	if _, err := e.mgr.End(ctx); !errors.Is(err, call.ErrNoActiveCall) {
		t.Errorf("second End error = %v, want ErrNoActiveCall", err)
	}
}

func TestStart_NewSessionEachCall(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	first, err := e.mgr.Start(ctx, call.StartRequest{ContactID: "u2"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.mgr.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	second, err := e.mgr.Start(ctx, call.StartRequest{GroupID: first.GroupID})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Error("session id reused")
	}
	if second.GroupID != first.GroupID {
		t.Errorf("group %q, want the direct group %q", second.GroupID, first.GroupID)
	}
}

func TestStart_BadRequests(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	tests := map[string]call.StartRequest{
		"empty":           {},
		"both":            {GroupID: "g", ContactID: "u2"},
		"unknown group":   {GroupID: "nope"},
		"unknown contact": {ContactID: "u99"},
	}
	for name, req := range tests {
		if _, err := e.mgr.Start(ctx, req); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := e.mgr.Start(ctx, call.StartRequest{GroupID: "nope"}); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("unknown group error = %v, want ErrNotFound", err)
	}
	if e.mgr.Active() {
		t.Error("failed Start left a call active")
	}
}

func TestStart_DeviceOpenFailureReleasesDevice(t *testing.T) {
	t.Parallel()

	dev := &failingOpen{Device: &devmock.Device{}}
	e := newEnv(t, func(c *call.Config) {
		c.NewDevice = func() (call.OutputDevice, error) { return dev, nil }
	})
	if _, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"}); err == nil {
		t.Fatal("expected error")
	}
	if _, _, closed := dev.Calls(); closed != 1 {
		t.Errorf("device closed %d times, want 1", closed)
	}
}

type failingOpen struct{ *devmock.Device }

func (f *failingOpen) Open() error { return errors.New("no audio hardware") }

func TestStart_MediaDenied(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	e.source.Grant(media.KindAudio, false)

	info, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Mic || info.Listening {
		t.Errorf("mic %v listening %v without permission", info.Mic, info.Listening)
	}
	if !slices.Equal(info.Media, []media.Kind{media.KindAudio, media.KindVideo}) {
		t.Errorf("unavailable media = %v", info.Media)
	}
	if n := len(e.stt.Calls()); n != 0 {
		t.Errorf("recognition started %d times without a microphone", n)
	}
	if _, err := e.mgr.ToggleMic(context.Background()); err == nil {
		t.Error("ToggleMic succeeded without a microphone")
	}

	// Typed input still drives the conversation.
	if err := e.mgr.Submit("hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return len(e.messages(t, info.GroupID)) >= 2 })
}

// ── Conversation ──────────────────────────────────────────────────────────────

func TestSpeechDrivesTurn(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	info, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := e.stt.LastSession()
	if sess == nil {
		t.Fatal("no recognition session")
	}
	if got := e.stt.Calls()[0].Cfg.Language; got != "en-US" {
		t.Errorf("recognition language %q, want en-US", got)
	}

	sess.EmitPartial("hel")
	waitFor(t, func() bool { return e.mgr.Interim() == "hel" })
	sess.EmitFinal("hello Alice")

	waitFor(t, func() bool { return len(e.messages(t, info.GroupID)) == 2 })
	msgs := e.messages(t, info.GroupID)
	if msgs[0].Text != "hello Alice" || msgs[0].SenderID != "u1" {
		t.Errorf("utterance = %+v", msgs[0])
	}
	if msgs[1].SenderID != "u2" {
		t.Errorf("reply sender %q, want u2", msgs[1].SenderID)
	}

	e.device(t).WaitPlay(t, 1)

	e.mu.Lock()
	states := slices.Clone(e.states)
	e.mu.Unlock()
	if len(states) == 0 || states[0].Speaker != "u1" {
		t.Errorf("indicator states = %+v", states)
	}
}

func TestPushAudio(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	e.mgr.PushAudio([]byte{1, 2}) // idle, dropped

	if _, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := e.stt.LastSession()
	e.mgr.PushAudio([]byte{1, 2})
	e.mgr.PushAudio([]byte{3, 4})
	waitFor(t, func() bool { return sess.SendAudioCallCount() == 2 })
}

func TestEnd_DropsLateReplies(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	e := newEnv(t, nil)
	e.backend.ReplyFunc = func(ctx context.Context, _, _ string, _ chat.Language) (string, error) {
		<-release
		return "too late", nil
	}

	info, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.mgr.Submit("are you there?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { return len(e.backend.CallsFor("reply")) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.mgr.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}
	close(release)

	time.Sleep(20 * time.Millisecond)
	for _, m := range e.messages(t, info.GroupID) {
		if m.SenderID == "u2" {
			t.Errorf("late reply stored after End: %+v", m)
		}
	}
	if n := len(e.device(t).Plays()); n != 0 {
		t.Errorf("%d buffers played after End", n)
	}
	if err := e.mgr.Submit("hello?"); !errors.Is(err, call.ErrNoActiveCall) {
		t.Errorf("Submit after End = %v, want ErrNoActiveCall", err)
	}
}

// ── Toggles ───────────────────────────────────────────────────────────────────

func TestToggleMic(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	if _, err := e.mgr.ToggleMic(ctx); !errors.Is(err, call.ErrNoActiveCall) {
		t.Errorf("idle ToggleMic = %v", err)
	}
	if _, err := e.mgr.Start(ctx, call.StartRequest{ContactID: "u2"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := e.stt.LastSession()

	on, err := e.mgr.ToggleMic(ctx)
	if err != nil || on {
		t.Fatalf("ToggleMic = %v, %v; want off", on, err)
	}
	if !first.Closed() {
		t.Error("recognition kept running with the mic off")
	}
	if info, _ := e.mgr.Info(); info.Mic || info.Listening {
		t.Errorf("info after mute = %+v", info)
	}

	on, err = e.mgr.ToggleMic(ctx)
	if err != nil || !on {
		t.Fatalf("ToggleMic = %v, %v; want on", on, err)
	}
	if n := len(e.stt.Calls()); n != 2 {
		t.Errorf("StartStream calls = %d, want 2", n)
	}
}

func TestToggleVideo(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	e.source.Grant(media.KindVideo, true)
	if _, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	on, err := e.mgr.ToggleVideo()
	if err != nil || on {
		t.Errorf("ToggleVideo = %v, %v; want off", on, err)
	}
	on, _ = e.mgr.ToggleVideo()
	if !on {
		t.Error("second ToggleVideo did not re-enable the camera")
	}
}

func TestToggleSpeaker(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	// The preference is kept while idle and applied on Start.
	if on, err := e.mgr.ToggleSpeaker(); err != nil || on {
		t.Fatalf("ToggleSpeaker = %v, %v; want off", on, err)
	}
	info, err := e.mgr.Start(context.Background(), call.StartRequest{ContactID: "u2"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.Speaker {
		t.Error("speaker on after muting while idle")
	}
	dev := e.device(t)
	if !dev.Suspended() {
		t.Error("device not suspended")
	}

	if on, err := e.mgr.ToggleSpeaker(); err != nil || !on {
		t.Fatalf("ToggleSpeaker = %v, %v; want on", on, err)
	}
	if dev.Suspended() {
		t.Error("device still suspended")
	}
}

// ── Language ──────────────────────────────────────────────────────────────────

func TestSetLanguage(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	if err := e.mgr.SetLanguage(ctx, chat.Language("Klingon")); !errors.Is(err, chat.ErrUnknownLanguage) {
		t.Errorf("invalid language error = %v", err)
	}
	if err := e.mgr.SetLanguage(ctx, chat.German); err != nil {
		t.Fatalf("idle SetLanguage: %v", err)
	}
	if got := e.dir.Local().Language; got != chat.German {
		t.Errorf("local language %q, want German", got)
	}

	if _, err := e.mgr.Start(ctx, call.StartRequest{ContactID: "u2"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.mgr.SetLanguage(ctx, chat.Japanese); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	calls := e.stt.Calls()
	if len(calls) != 2 || calls[0].Cfg.Language != "de-DE" || calls[1].Cfg.Language != "ja-JP" {
		t.Errorf("recognition languages = %+v", calls)
	}
}
