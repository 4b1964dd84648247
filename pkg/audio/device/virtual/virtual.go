// Package virtual provides a headless output device that "plays" a buffer by
// waiting for its duration. It stands in for a sound card on servers and in
// integration tests where audible output is neither possible nor wanted.
package virtual

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/audio/playback"
)

// Compile-time interface assertion.
var _ playback.Device = (*Device)(nil)

// ErrClosed is returned by [Device.Play] after [Device.Close].
var ErrClosed = errors.New("virtual: device closed")

// Option configures a [Device].
type Option func(*Device)

// WithSpeed scales playback time. A speed of 2 plays a one second buffer in
// half a second. Non-positive values are ignored.
func WithSpeed(s float64) Option {
	return func(d *Device) {
		if s > 0 {
			d.speed = s
		}
	}
}

// WithSink receives every buffer as it starts playing, e.g. to record what
// would have been heard.
func WithSink(fn func(*audio.Buffer)) Option {
	return func(d *Device) {
		d.sink = fn
	}
}

// Device is a timer-driven [playback.Device]. Suspend pauses the clock of
// the playing voice, so muting delays completion exactly like a paused sound
// card would.
type Device struct {
	speed float64
	sink  func(*audio.Buffer)

	mu        sync.Mutex
	current   *voice
	suspended bool
	closed    bool
}

// New returns a device playing at real-time speed.
func New(opts ...Option) *Device {
	d := &Device{speed: 1}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Play implements [playback.Device].
func (d *Device) Play(b *audio.Buffer) (playback.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	v := &voice{
		dev:       d,
		done:      make(chan struct{}),
		remaining: time.Duration(float64(b.Duration()) / d.speed),
	}
	d.current = v
	if !d.suspended {
		v.startLocked()
	}
	if d.sink != nil {
		d.sink(b)
	}
	return v, nil
}

// Suspend pauses the playing voice.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = true
	if d.current != nil {
		d.current.pauseLocked()
	}
	return nil
}

// Resume continues the playing voice.
func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
	if d.current != nil {
		d.current.startLocked()
	}
	return nil
}

// Suspended reports whether the device is paused.
func (d *Device) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// Close stops the playing voice. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	v := d.current
	d.mu.Unlock()
	if v != nil {
		v.Stop()
	}
	return nil
}

// voice fields other than done are guarded by dev.mu.
type voice struct {
	dev       *Device
	done      chan struct{}
	once      sync.Once
	timer     *time.Timer
	started   time.Time
	remaining time.Duration
}

func (v *voice) startLocked() {
	if v.timer != nil || v.ended() {
		return
	}
	v.started = time.Now()
	v.timer = time.AfterFunc(v.remaining, v.finish)
}

func (v *voice) pauseLocked() {
	if v.timer == nil {
		return
	}
	if v.timer.Stop() {
		v.remaining -= time.Since(v.started)
		if v.remaining < 0 {
			v.remaining = 0
		}
	}
	v.timer = nil
}

func (v *voice) ended() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

func (v *voice) finish() {
	v.dev.mu.Lock()
	if v.dev.current == v {
		v.dev.current = nil
	}
	v.timer = nil
	v.dev.mu.Unlock()
	v.once.Do(func() { close(v.done) })
}

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) Err() error { return nil }

func (v *voice) Stop() {
	v.dev.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.dev.current == v {
		v.dev.current = nil
	}
	v.dev.mu.Unlock()
	v.once.Do(func() { close(v.done) })
}
