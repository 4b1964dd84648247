// Package orchestrator runs the conversation turns of a call.
//
// Every final transcript of the local participant starts a turn:
//
//  1. the utterance is appended to the group with status "sending";
//  2. the [DeliveryPolicy] advances its status as simulated acks arrive;
//  3. if the peer speaks another language the utterance is translated;
//  4. concurrently with 3, the peer's reply is generated and appended;
//  5. the reply is translated into the local language, voiced, decoded and
//     handed to the playback queue.
//
// Each step that fails is logged and skipped; the turn always keeps going
// with what it has. Turns are independent: a new utterance never cancels a
// reply in flight, and the playback queue alone orders the audio.
//
// Every turn is tagged with the session that started it. After
// [Orchestrator.Close] the session is stale and no late result touches the
// message store or the queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/translate"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// ErrClosed is returned by [Orchestrator.HandleFinal] after Close.
var ErrClosed = errors.New("orchestrator: session closed")

// Pipeline step names used in logs and metrics.
const (
	StepStatus         = "status"
	StepTranslate      = "translate"
	StepReply          = "reply"
	StepReplyTranslate = "reply_translate"
	StepDecode         = "decode"
	StepEnqueue        = "enqueue"
)

const (
	defaultSpeakerGrace = 1500 * time.Millisecond
	defaultReplyGrace   = time.Second
)

// AudioSink accepts decoded reply audio. *playback.Queue implements it.
type AudioSink interface {
	Enqueue(b *audio.Buffer) error
}

// Config configures an [Orchestrator].
type Config struct {
	Store   *chat.MemStore
	Backend translate.Backend
	Queue   AudioSink
	GroupID string

	// Local is the participant whose speech is captured. Peer is the
	// simulated participant who replies.
	Local chat.User
	Peer  chat.User

	// Policy defaults to [DefaultDelivery].
	Policy DeliveryPolicy

	// Indicator defaults to a private indicator without a callback.
	Indicator *Indicator

	// SessionID tags every turn. Defaults to the group id.
	SessionID string

	// ReplyAudio requests synthesized audio for replies.
	ReplyAudio bool

	// Voice is passed to synthesis when reply and local languages match.
	// Empty selects the backend default.
	Voice string

	// SpeakerGrace is how long the local speaker stays highlighted after
	// the utterance. ReplyGrace is the same for the peer after a reply.
	SpeakerGrace time.Duration
	ReplyGrace   time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Turn identifies one conversation turn.
type Turn struct {
	Session string
	Seq     uint64
}

// String returns "session#seq".
func (t Turn) String() string {
	return fmt.Sprintf("%s#%d", t.Session, t.Seq)
}

// Orchestrator runs turns for one call session.
type Orchestrator struct {
	cfg Config
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closed and the participants. Results are applied under the
	// read lock so that Close, which takes the write lock, cannot interleave
	// with a stale check and the mutation that follows it.
	mu     sync.RWMutex
	closed bool
	local  chat.User
	peer   chat.User
	seq    uint64
}

// New returns an orchestrator. Store, Backend and GroupID are required.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	if cfg.GroupID == "" {
		errs = append(errs, errors.New("group id is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	if cfg.Policy == nil {
		cfg.Policy = DefaultDelivery()
	}
	if cfg.Indicator == nil {
		cfg.Indicator = NewIndicator(nil)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = cfg.GroupID
	}
	if cfg.SpeakerGrace <= 0 {
		cfg.SpeakerGrace = defaultSpeakerGrace
	}
	if cfg.ReplyGrace <= 0 {
		cfg.ReplyGrace = defaultReplyGrace
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		log:    log.With("session_id", cfg.SessionID),
		ctx:    ctx,
		cancel: cancel,
		local:  cfg.Local,
		peer:   cfg.Peer,
	}, nil
}

// SetLocal updates the local participant, e.g. after a language change.
// Turns already running keep the participant they started with.
func (o *Orchestrator) SetLocal(u chat.User) {
	o.mu.Lock()
	o.local = u
	o.mu.Unlock()
}

// Participants returns the local and peer participants.
func (o *Orchestrator) Participants() (local, peer chat.User) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.local, o.peer
}

// HandleFinal starts a turn for a final transcript. The utterance is appended
// before HandleFinal returns; the rest of the turn runs in the background.
// Blank text is ignored and yields a zero Turn.
func (o *Orchestrator) HandleFinal(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Turn{}, ErrClosed
	}
	local, peer := o.local, o.peer
	o.cfg.Indicator.Set(local.ID)
	msg, err := o.cfg.Store.AppendMessage(o.cfg.GroupID, chat.Message{
		SenderID:   local.ID,
		SenderName: local.Name,
		Text:       text,
		Status:     chat.StatusSending,
	})
	if err != nil {
		o.mu.Unlock()
		return Turn{}, fmt.Errorf("orchestrator: append utterance: %w", err)
	}
	o.seq++
	turn := Turn{Session: o.cfg.SessionID, Seq: o.seq}
	o.wg.Add(1)
	o.mu.Unlock()

	o.cfg.Indicator.ClearAfter(local.ID, o.cfg.SpeakerGrace)

	// The turn outlives the caller's request but not the session.
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.ctx, cancel)

	go func() {
		defer o.wg.Done()
		defer cancel()
		defer stop()
		o.run(tctx, turnState{turn: turn, local: local, peer: peer, msg: msg})
	}()
	return turn, nil
}

// Wait blocks until every started turn has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close marks the session stale and cancels in-flight backend calls. When
// Close returns no turn of this session will mutate the store or enqueue
// audio. It does not wait for the turns to exit; use [Orchestrator.Wait].
// Close is idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	return nil
}

// Closed reports whether Close was called.
func (o *Orchestrator) Closed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// turnState is the immutable snapshot a turn works with.
type turnState struct {
	turn  Turn
	local chat.User
	peer  chat.User
	msg   chat.Message
}

func (o *Orchestrator) run(ctx context.Context, ts turnState) {
	ctx, span := observe.StartTurnSpan(ctx, ts.turn.Session, ts.turn.Seq)
	defer span.End()
	start := time.Now()

	var g errgroup.Group
	g.Go(func() error {
		o.advanceStatus(ctx, ts)
		return nil
	})
	g.Go(func() error {
		o.translateUtterance(ctx, ts)
		return nil
	})
	g.Go(func() error {
		o.reply(ctx, ts)
		return nil
	})
	_ = g.Wait()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
	o.logger(ts.turn).Debug("orchestrator: turn finished", "elapsed", time.Since(start))
}

// advanceStatus applies the simulated delivery acknowledgements.
func (o *Orchestrator) advanceStatus(ctx context.Context, ts turnState) {
	for _, step := range o.cfg.Policy.Outgoing() {
		if !sleep(ctx, step.After) {
			return
		}
		o.apply(func() {
			if _, err := o.cfg.Store.AdvanceStatus(o.cfg.GroupID, ts.msg.ID, step.Status); err != nil {
				o.stepFailed(ctx, ts.turn, StepStatus, err)
			}
		})
	}
}

// translateUtterance attaches the peer-language rendering of the utterance.
func (o *Orchestrator) translateUtterance(ctx context.Context, ts turnState) {
	if ts.peer.ID == "" || ts.peer.Language == ts.local.Language {
		return
	}
	out, err := o.cfg.Backend.Translate(ctx, ts.msg.Text, ts.peer.Language)
	if err != nil {
		o.stepFailed(ctx, ts.turn, StepTranslate, err)
		return
	}
	o.apply(func() {
		if _, err := o.cfg.Store.UpdateMessage(o.cfg.GroupID, ts.msg.ID, func(m *chat.Message) {
			m.TranslatedText = out
		}); err != nil {
			o.stepFailed(ctx, ts.turn, StepTranslate, err)
		}
	})
}

// reply generates the peer's answer, then translates, voices and queues it.
func (o *Orchestrator) reply(ctx context.Context, ts turnState) {
	if ts.peer.ID == "" {
		return
	}
	if !sleep(ctx, o.cfg.Policy.ReplyWait()) {
		return
	}
	if !o.active() {
		return
	}

	ind := o.cfg.Indicator
	ind.Set(ts.peer.ID)
	ind.SetBusy(true)
	defer func() {
		ind.SetBusy(false)
		ind.ClearAfter(ts.peer.ID, o.cfg.ReplyGrace)
	}()

	text, err := o.cfg.Backend.GenerateReply(ctx, ts.msg.Text, ts.peer.Name, ts.peer.Language)
	if err != nil {
		o.stepFailed(ctx, ts.turn, StepReply, err)
		return
	}

	var reply chat.Message
	ok := o.apply(func() {
		reply, err = o.cfg.Store.AppendMessage(o.cfg.GroupID, chat.Message{
			SenderID:   ts.peer.ID,
			SenderName: ts.peer.Name,
			Text:       text,
			Status:     chat.StatusDelivered,
		})
	})
	if !ok {
		return
	}
	if err != nil {
		o.stepFailed(ctx, ts.turn, StepReply, err)
		return
	}

	translated, speech, err := o.renderReply(ctx, ts, text)
	if err != nil {
		o.stepFailed(ctx, ts.turn, StepReplyTranslate, err)
		return
	}

	var buf *audio.Buffer
	if speech != nil {
		if buf, err = speech.Decode(); err != nil {
			o.stepFailed(ctx, ts.turn, StepDecode, err)
		}
	}

	o.apply(func() {
		if translated != "" {
			if _, err := o.cfg.Store.UpdateMessage(o.cfg.GroupID, reply.ID, func(m *chat.Message) {
				m.TranslatedText = translated
			}); err != nil {
				o.stepFailed(ctx, ts.turn, StepReplyTranslate, err)
			}
		}
		if buf != nil && o.cfg.Queue != nil {
			if err := o.cfg.Queue.Enqueue(buf); err != nil {
				o.stepFailed(ctx, ts.turn, StepEnqueue, err)
			}
		}
	})
}

// renderReply returns the local-language text of the reply (empty when no
// translation was needed) and its speech, if requested.
func (o *Orchestrator) renderReply(ctx context.Context, ts turnState, text string) (string, *translate.Speech, error) {
	if ts.peer.Language != ts.local.Language {
		res, err := o.cfg.Backend.TranslateAndSynthesize(ctx, text, ts.local.Language, o.cfg.ReplyAudio)
		if err != nil {
			return "", nil, err
		}
		return res.TranslatedText, res.Audio, nil
	}
	if !o.cfg.ReplyAudio {
		return "", nil, nil
	}
	sp, err := o.cfg.Backend.Synthesize(ctx, text, o.cfg.Voice)
	if err != nil {
		return "", nil, err
	}
	return "", sp, nil
}

// apply runs fn unless the session is stale and reports whether it ran.
func (o *Orchestrator) apply(fn func()) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) active() bool {
	return !o.Closed()
}

func (o *Orchestrator) stepFailed(ctx context.Context, turn Turn, step string, err error) {
	if errors.Is(err, context.Canceled) && o.ctx.Err() != nil {
		return
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordStepError(ctx, step)
	}
	o.logger(turn).Warn("orchestrator: step failed, continuing", "step", step, "err", err)
}

func (o *Orchestrator) logger(turn Turn) *slog.Logger {
	return o.log.With("turn", turn.Seq)
}

// sleep waits for d or until ctx is done and reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
