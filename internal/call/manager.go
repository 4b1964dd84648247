// Package call owns the lifecycle of the single active call.
//
// A [Manager] starts a call for a group or a contact, wires capture, the
// conversation orchestrator and the playback queue together, and tears all
// of it down again when the call ends. Only one call is active at a time.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/babelcall/internal/capture"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/media"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/orchestrator"
	"github.com/MrWong99/babelcall/internal/translate"
	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/audio/playback"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

var (
	// ErrNoActiveCall is returned by operations that need a running call.
	ErrNoActiveCall = errors.New("call: no active call")

	// ErrCallActive is returned by [Manager.Start] while a call is running.
	ErrCallActive = errors.New("call: a call is already active")
)

// OutputDevice is the speaker the reply audio plays on. The speaker and
// virtual devices implement it.
type OutputDevice interface {
	playback.Device
	Suspend() error
	Resume() error
	Close() error
}

// opener is implemented by devices that acquire the hardware separately from
// construction.
type opener interface {
	Open() error
}

// Settings are the conversation parameters applied to each new call.
type Settings struct {
	Policy       orchestrator.DeliveryPolicy
	ReplyAudio   bool
	Voice        string
	SpeakerGrace time.Duration
	ReplyGrace   time.Duration
}

// Hooks deliver live call state to a client. All are optional. They may run
// while the manager is ending a call and must not call back into it.
type Hooks struct {
	OnInterim   func(text string)
	OnIndicator func(orchestrator.IndicatorState)
}

// Config holds the dependencies of a [Manager].
type Config struct {
	Directory *chat.Directory
	Backend   translate.Backend

	// NewDevice creates the output device when a call starts. The device
	// is closed when the call ends.
	NewDevice func() (OutputDevice, error)

	// Media supplies the local microphone and camera. Nil means the call
	// runs text-only.
	Media media.Source

	// STT recognizes the microphone track. Nil disables speech capture;
	// [Manager.Submit] still works.
	STT stt.Provider

	Settings Settings
	Hooks    Hooks
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// StartRequest names what to call. Exactly one field must be set.
type StartRequest struct {
	GroupID   string
	ContactID string
}

// Info describes the active call.
type Info struct {
	SessionID string       `json:"sessionId"`
	GroupID   string       `json:"groupId"`
	GroupName string       `json:"groupName"`
	Peer      chat.User    `json:"peer"`
	StartedAt time.Time    `json:"startedAt"`
	Mic       bool         `json:"mic"`
	Video     bool         `json:"video"`
	Speaker   bool         `json:"speaker"`
	Listening bool         `json:"listening"`
	Media     []media.Kind `json:"unavailable,omitempty"`
}

// Manager manages the single active call. All exported methods are safe for
// concurrent use.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	settings  Settings
	speakerOn bool

	active    bool
	info      Info
	device    OutputDevice
	queue     *playback.Queue
	stream    *media.Stream
	recog     *capture.Recognizer
	orch      *orchestrator.Orchestrator
	indicator *orchestrator.Indicator
	cancel    context.CancelFunc

	// closers are called in reverse order during End.
	closers []func() error
}

// NewManager returns an idle manager. Directory, Backend and NewDevice are
// required.
func NewManager(cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Directory == nil {
		errs = append(errs, errors.New("directory is required"))
	}
	if cfg.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	if cfg.NewDevice == nil {
		errs = append(errs, errors.New("device factory is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		log:       log,
		settings:  cfg.Settings,
		speakerOn: true,
	}, nil
}

// SetSettings replaces the conversation settings used by calls started
// afterwards. The active call keeps its settings.
func (m *Manager) SetSettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// Start begins a call. A contact is called through its direct group, which
// is created on first use. Media that cannot be acquired is logged and the
// call continues without it.
//
// Returns [ErrCallActive] if a call is already running.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return Info{}, fmt.Errorf("%w (id=%s)", ErrCallActive, m.info.SessionID)
	}

	group, err := m.resolveGroup(req)
	if err != nil {
		return Info{}, err
	}
	local := m.cfg.Directory.Local()
	peers := group.Peers(local.ID)
	if len(peers) == 0 {
		return Info{}, fmt.Errorf("call: group %q has no other participant", group.ID)
	}
	peer := peers[0]

	var closers []func() error
	fail := func(err error) (Info, error) {
		runClosers(m.log, "", closers)
		return Info{}, err
	}

	device, err := m.cfg.NewDevice()
	if err != nil {
		return Info{}, fmt.Errorf("call: create output device: %w", err)
	}
	closers = append(closers, device.Close)
	if o, ok := device.(opener); ok {
		if err := o.Open(); err != nil {
			return fail(fmt.Errorf("call: open output device: %w", err))
		}
	}
	if !m.speakerOn {
		if err := device.Suspend(); err != nil {
			m.log.Warn("call: suspend output device", "err", err)
		}
	}

	queue := playback.New(
		playback.WithHooks(m.queueHooks()),
		playback.WithLogger(m.log),
	)
	queue.SetOutputDevice(device)
	closers = append(closers, func() error {
		queue.Clear()
		return queue.Close()
	})

	info := Info{
		SessionID: uuid.NewString(),
		GroupID:   group.ID,
		GroupName: group.Name,
		Peer:      peer,
		StartedAt: time.Now().UTC(),
		Speaker:   m.speakerOn,
	}

	stream := m.acquireMedia(ctx, &info)
	closers = append(closers, func() error {
		stream.Stop()
		return nil
	})

	indicator := orchestrator.NewIndicator(m.cfg.Hooks.OnIndicator)
	closers = append(closers, func() error {
		indicator.Stop()
		return nil
	})

	s := m.settings
	orch, err := orchestrator.New(orchestrator.Config{
		Store:        m.cfg.Directory.Store(),
		Backend:      m.cfg.Backend,
		Queue:        queue,
		GroupID:      group.ID,
		Local:        local,
		Peer:         peer,
		Policy:       s.Policy,
		Indicator:    indicator,
		SessionID:    info.SessionID,
		ReplyAudio:   s.ReplyAudio,
		Voice:        s.Voice,
		SpeakerGrace: s.SpeakerGrace,
		ReplyGrace:   s.ReplyGrace,
		Metrics:      m.cfg.Metrics,
		Logger:       m.log,
	})
	if err != nil {
		return fail(fmt.Errorf("call: %w", err))
	}
	closers = append(closers, orch.Close)

	// Turns outlive the request that started the call.
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	recog := capture.New(capture.Config{
		Provider: m.cfg.STT,
		Track:    stream.Audio,
		Language: local.Language.Tag(),
		Handlers: capture.Handlers{
			OnInterim: m.cfg.Hooks.OnInterim,
			OnFinal: func(text string) {
				if _, err := orch.HandleFinal(callCtx, text); err != nil && !errors.Is(err, orchestrator.ErrClosed) {
					m.log.Warn("call: handle transcript", "session_id", info.SessionID, "err", err)
				}
			},
		},
		Logger: m.log,
	})
	closers = append(closers, recog.Stop)

	if m.cfg.STT != nil && stream.Audio != nil && stream.Audio.Enabled() {
		if err := recog.Start(ctx); err != nil {
			m.log.Warn("call: speech capture unavailable", "session_id", info.SessionID, "err", err)
		}
	}
	info.Mic = stream.Audio != nil && stream.Audio.Enabled()
	info.Video = stream.Video != nil && stream.Video.Enabled()

	m.active = true
	m.info = info
	m.device = device
	m.queue = queue
	m.stream = stream
	m.recog = recog
	m.orch = orch
	m.indicator = indicator
	m.cancel = cancel
	m.closers = closers

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	}

	m.log.Info("call started",
		"session_id", info.SessionID,
		"group_id", group.ID,
		"peer", peer.Name,
		"peer_language", peer.Language,
		"mic", info.Mic,
		"listening", recog.Listening(),
	)
	return m.infoLocked(), nil
}

// End stops capture and media, marks the session stale, discards queued
// audio and releases the output device. It then waits for in-flight turns
// to drain until ctx expires; no late result reaches the store or the queue
// either way.
//
// Returns [ErrNoActiveCall] if no call is running.
func (m *Manager) End(ctx context.Context) (Info, error) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return Info{}, ErrNoActiveCall
	}

	info := m.infoLocked()
	orch := m.orch

	runClosers(m.log, info.SessionID, m.closers)
	m.cancel()

	m.active = false
	m.info = Info{}
	m.device = nil
	m.queue = nil
	m.stream = nil
	m.recog = nil
	m.orch = nil
	m.indicator = nil
	m.cancel = nil
	m.closers = nil
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveCalls.Add(ctx, -1)
	}

	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("call: turns still draining", "session_id", info.SessionID, "err", ctx.Err())
	}

	m.log.Info("call ended", "session_id", info.SessionID, "duration", time.Since(info.StartedAt).Round(time.Millisecond))
	return info, nil
}

// Active reports whether a call is running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns the active call. The second result is false when idle.
func (m *Manager) Info() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return Info{}, false
	}
	return m.infoLocked(), true
}

// ToggleMic flips the microphone track and starts or stops speech capture
// with it. It returns the new state.
func (m *Manager) ToggleMic(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return false, ErrNoActiveCall
	}
	track := m.stream.Audio
	if track == nil {
		return false, &media.MediaAccessError{Kind: media.KindAudio, Err: media.ErrTrackStopped}
	}
	on := track.Toggle()
	if m.cfg.STT == nil {
		return on, nil
	}
	if on {
		if err := m.recog.Start(ctx); err != nil {
			return on, fmt.Errorf("call: start capture: %w", err)
		}
		return on, nil
	}
	return on, m.recog.Stop()
}

// ToggleVideo flips the camera track and returns the new state.
func (m *Manager) ToggleVideo() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return false, ErrNoActiveCall
	}
	if m.stream.Video == nil {
		return false, &media.MediaAccessError{Kind: media.KindVideo, Err: media.ErrTrackStopped}
	}
	return m.stream.Video.Toggle(), nil
}

// ToggleSpeaker mutes or unmutes reply audio by suspending or resuming the
// output device. The preference survives between calls. It returns true
// when the speaker is on.
func (m *Manager) ToggleSpeaker() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakerOn = !m.speakerOn
	if m.device == nil {
		return m.speakerOn, nil
	}
	var err error
	if m.speakerOn {
		err = m.device.Resume()
	} else {
		err = m.device.Suspend()
	}
	if err != nil {
		return m.speakerOn, fmt.Errorf("call: toggle speaker: %w", err)
	}
	return m.speakerOn, nil
}

// Submit injects a final transcript as if it had been spoken.
func (m *Manager) Submit(text string) error {
	m.mu.Lock()
	recog := m.recog
	m.mu.Unlock()
	if recog == nil {
		return ErrNoActiveCall
	}
	recog.Submit(text)
	return nil
}

// PushAudio writes one PCM16 frame into the microphone track. It is a no-op
// while idle or muted.
func (m *Manager) PushAudio(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil || m.stream.Audio == nil {
		return
	}
	_ = m.stream.Audio.Write(frame)
}

// Interim returns the current interim transcript of the active call.
func (m *Manager) Interim() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recog == nil {
		return ""
	}
	return m.recog.Interim()
}

// SetLanguage changes the local participant's language. A running call
// translates and recognizes in the new language from the next turn on.
func (m *Manager) SetLanguage(ctx context.Context, lang chat.Language) error {
	if !lang.Valid() {
		return fmt.Errorf("call: %w: %q", chat.ErrUnknownLanguage, lang)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	local := m.cfg.Directory.Local()
	local.Language = lang
	m.cfg.Directory.SetLocal(local)

	if !m.active {
		return nil
	}
	m.orch.SetLocal(local)
	if err := m.recog.SetLanguage(ctx, lang.Tag()); err != nil {
		return fmt.Errorf("call: restart capture: %w", err)
	}
	return nil
}

func (m *Manager) resolveGroup(req StartRequest) (chat.Group, error) {
	switch {
	case req.GroupID != "" && req.ContactID != "":
		return chat.Group{}, errors.New("call: start request names both a group and a contact")
	case req.ContactID != "":
		g, err := m.cfg.Directory.DirectGroup(req.ContactID)
		if err != nil {
			return chat.Group{}, fmt.Errorf("call: %w", err)
		}
		return g, nil
	case req.GroupID != "":
		g, err := m.cfg.Directory.Store().Group(req.GroupID)
		if err != nil {
			return chat.Group{}, fmt.Errorf("call: %w", err)
		}
		return g, nil
	default:
		return chat.Group{}, errors.New("call: start request names no group or contact")
	}
}

// acquireMedia requests the local capture. Missing kinds are recorded in
// info and the call goes on with whatever was granted.
func (m *Manager) acquireMedia(ctx context.Context, info *Info) *media.Stream {
	if m.cfg.Media == nil {
		return &media.Stream{}
	}
	stream, err := m.cfg.Media.Acquire(ctx, media.DefaultConstraints())
	if stream == nil {
		stream = &media.Stream{}
	}
	if stream.Audio == nil {
		info.Media = append(info.Media, media.KindAudio)
	}
	if stream.Video == nil {
		info.Media = append(info.Media, media.KindVideo)
	}
	if err != nil {
		m.log.Warn("call: media unavailable, continuing without it",
			"session_id", info.SessionID, "missing", info.Media, "err", err)
	}
	return stream
}

func (m *Manager) queueHooks() playback.Hooks {
	met := m.cfg.Metrics
	if met == nil {
		return playback.Hooks{}
	}
	return playback.Hooks{
		OnFinish: func(_ *audio.Buffer, err error) {
			met.RecordPlayback(context.Background(), err)
		},
		OnDepth: func(pending int) {
			met.RecordQueueDepth(context.Background(), pending)
		},
	}
}

func (m *Manager) infoLocked() Info {
	info := m.info
	info.Speaker = m.speakerOn
	if m.recog != nil {
		info.Listening = m.recog.Listening()
	}
	if m.stream != nil {
		info.Mic = m.stream.Audio != nil && m.stream.Audio.Enabled()
		info.Video = m.stream.Video != nil && m.stream.Video.Enabled()
	}
	return info
}

// runClosers calls closers in reverse order, logging failures.
func runClosers(log *slog.Logger, sessionID string, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("call: closer error", "session_id", sessionID, "index", i, "err", err)
		}
	}
}
