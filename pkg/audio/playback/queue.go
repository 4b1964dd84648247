// Package playback sequences decoded speech buffers onto a single output
// device.
//
// A [Queue] owns the only path to the device: buffers are played strictly in
// the order they were enqueued, at most one at a time, and a buffer never
// starts before the previous one finished. [Queue.Clear] silences the device
// synchronously and guarantees that nothing queued before the call is heard
// afterwards.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// ErrQueueClosed is returned by [Queue.Enqueue] after [Queue.Close].
var ErrQueueClosed = errors.New("playback: queue closed")

// Device is an audio sink that can play one buffer at a time on behalf of a
// [Queue].
//
// Play starts playback of b and returns immediately. It must not block until
// the buffer finishes and must not call back into the queue.
type Device interface {
	Play(b *audio.Buffer) (Voice, error)
}

// Voice is a buffer that a [Device] is currently playing.
type Voice interface {
	// Done is closed when playback ends, naturally or via Stop.
	Done() <-chan struct{}

	// Err reports a playback failure after Done is closed. It is nil for a
	// natural completion and for a stop.
	Err() error

	// Stop halts playback immediately and closes Done. Stop is idempotent.
	Stop()
}

// PlaybackError reports that the device failed to play a buffer. The queue
// logs it and advances to the next buffer.
type PlaybackError struct {
	Err error
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: %v", e.Err)
}

// Unwrap returns the underlying device error.
func (e *PlaybackError) Unwrap() error { return e.Err }

// State is the queue's coarse playback state.
type State int

const (
	// Idle means nothing is audible.
	Idle State = iota
	// Playing means exactly one buffer is being played.
	Playing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Hooks observe queue activity. Every hook is optional and is invoked from the
// queue's dispatch goroutine (OnDepth also from Enqueue and Clear), without
// internal locks held. Hooks must not block.
type Hooks struct {
	// OnStart is called when a buffer starts playing.
	OnStart func(b *audio.Buffer)

	// OnFinish is called when a buffer completes naturally (err == nil) or
	// fails (err is a *PlaybackError). Buffers halted by Clear or Close are
	// not reported.
	OnFinish func(b *audio.Buffer, err error)

	// OnDepth is called with the number of pending buffers whenever it changes.
	OnDepth func(pending int)
}

// Option configures a [Queue].
type Option func(*Queue)

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(q *Queue) {
		q.hooks = h
	}
}

// WithLogger sets the logger used for playback errors. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// Queue plays buffers sequentially on one output device.
//
// State machine: Idle -> Playing when a buffer is promoted, Playing -> Idle
// when it completes and nothing is pending, and any state -> Idle on Clear.
//
// Every dispatch step is tagged with the generation current at the time it
// was started. Clear bumps the generation, so completion events belonging to
// a halted buffer are recognised as stale and ignored.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	device  Device
	pending []*audio.Buffer
	current Voice // voice being played, nil while idle
	active  bool  // a buffer has been promoted and not yet finished
	gen     uint64

	hooks Hooks
	log   *slog.Logger

	notify chan struct{}
	done   chan struct{}
	closed bool
	exited chan struct{}
}

// New creates an idle queue without an output device and starts its dispatch
// goroutine. Buffers enqueued before [Queue.SetOutputDevice] wait until a
// device is bound.
func New(opts ...Option) *Queue {
	q := &Queue{
		log:    slog.Default(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.dispatch()
	return q
}

// SetOutputDevice binds the queue to d. A buffer already playing on the
// previous device is not interrupted; the next buffer plays on d.
func (q *Queue) SetOutputDevice(d Device) {
	q.mu.Lock()
	q.device = d
	q.mu.Unlock()
	q.wake()
}

// Enqueue appends b to the tail of the queue and returns immediately. If
// nothing is playing, b is promoted right away. Nil and empty buffers are
// ignored.
func (q *Queue) Enqueue(b *audio.Buffer) error {
	if b == nil || len(b.Samples) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, b)
	depth := len(q.pending)
	q.mu.Unlock()

	q.reportDepth(depth)
	q.wake()
	return nil
}

// Clear stops the current buffer, discards everything pending and returns
// the queue to Idle. When Clear returns nothing is audible, and no buffer
// enqueued before the call will ever play.
func (q *Queue) Clear() {
	q.mu.Lock()
	v := q.resetLocked()
	q.mu.Unlock()

	if v != nil {
		v.Stop()
	}
	q.reportDepth(0)
}

// State reports whether a buffer is currently playing.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active {
		return Playing
	}
	return Idle
}

// Pending returns the number of buffers waiting behind the current one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close clears the queue and stops the dispatch goroutine. The output device
// is not closed; it belongs to the caller. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	v := q.resetLocked()
	q.mu.Unlock()

	if v != nil {
		v.Stop()
	}
	close(q.done)
	<-q.exited
	return nil
}

// resetLocked invalidates the running dispatch step and drops pending
// buffers. It returns the voice that must be stopped. Must be called with
// q.mu held.
func (q *Queue) resetLocked() Voice {
	q.gen++
	q.pending = nil
	q.active = false
	v := q.current
	q.current = nil
	return v
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) reportDepth(n int) {
	if q.hooks.OnDepth != nil {
		q.hooks.OnDepth(n)
	}
}

// dispatch is the background goroutine that promotes pending buffers one at
// a time. It runs until [Queue.Close].
func (q *Queue) dispatch() {
	defer close(q.exited)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			s, ok := q.promote()
			if !ok {
				break
			}
			if s.err != nil {
				q.fail(s)
				continue
			}
			if q.hooks.OnStart != nil {
				q.hooks.OnStart(s.buf)
			}

			select {
			case <-q.done:
				s.voice.Stop()
				return
			case <-s.voice.Done():
			}
			q.finish(s)
		}
	}
}

// step is one buffer promoted by the dispatch goroutine.
type step struct {
	buf   *audio.Buffer
	voice Voice
	gen   uint64
	err   error
}

// promote pops the head of the queue and starts it on the bound device. It
// returns ok=false when there is nothing to do: the queue is empty, no device
// is bound, or a buffer is already active.
//
// The device call happens under the lock so that a concurrent Clear either
// runs before the buffer is dequeued or after its voice is registered and can
// be stopped.
func (q *Queue) promote() (step, bool) {
	q.mu.Lock()
	if q.closed || q.active || q.device == nil || len(q.pending) == 0 {
		q.mu.Unlock()
		return step{}, false
	}
	s := step{buf: q.pending[0], gen: q.gen}
	q.pending[0] = nil
	q.pending = q.pending[1:]
	depth := len(q.pending)

	s.voice, s.err = q.device.Play(s.buf)
	if s.err == nil {
		q.current = s.voice
		q.active = true
	}
	q.mu.Unlock()

	q.reportDepth(depth)
	return s, true
}

// finish records the natural end of a step. A stale generation means Clear
// or Close already reset the state, so nothing is touched.
func (q *Queue) finish(s step) {
	q.mu.Lock()
	if s.gen != q.gen || q.current != s.voice {
		q.mu.Unlock()
		return
	}
	q.current = nil
	q.active = false
	q.mu.Unlock()

	var err error
	if verr := s.voice.Err(); verr != nil {
		err = &PlaybackError{Err: verr}
		q.log.Warn("playback: buffer failed", "err", err, "duration", s.buf.Duration())
	}
	if q.hooks.OnFinish != nil {
		q.hooks.OnFinish(s.buf, err)
	}
}

// fail reports a device that refused to start a buffer. The queue stays Idle
// and advances to the next buffer.
func (q *Queue) fail(s step) {
	err := &PlaybackError{Err: s.err}
	q.log.Warn("playback: device refused buffer", "err", err, "duration", s.buf.Duration())

	q.mu.Lock()
	stale := s.gen != q.gen
	q.mu.Unlock()
	if !stale && q.hooks.OnFinish != nil {
		q.hooks.OnFinish(s.buf, err)
	}
}
