// Package mock provides a scripted output device for tests of the playback
// queue and its callers.
//
// Voices started by [Device] stay audible until the test finishes them with
// [Voice.Finish] or until AutoComplete elapses, which lets tests control the
// exact interleaving of completions. The device records overlap so tests can
// assert that no two voices were ever audible at once.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	q := playback.New()
//	q.SetOutputDevice(dev)
//	q.Enqueue(buf)
//	v := dev.WaitPlay(t, 0)
//	v.Finish(nil)
package mock

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ playback.Device = (*Device)(nil)
	_ playback.Voice  = (*Voice)(nil)
)

// Device is a mock [playback.Device]. Set the exported fields before use.
type Device struct {
	// AutoComplete, when positive, finishes every voice after this delay.
	AutoComplete time.Duration

	// PlayErr, when non-nil, is called for every buffer; a non-nil result is
	// returned from Play instead of starting a voice.
	PlayErr func(b *audio.Buffer) error

	mu           sync.Mutex
	plays        []*Voice
	audible      int
	maxAudible   int
	suspended    bool
	suspendCalls int
	resumeCalls  int
	closeCalls   int
}

// Play implements [playback.Device].
func (d *Device) Play(b *audio.Buffer) (playback.Voice, error) {
	if d.PlayErr != nil {
		if err := d.PlayErr(b); err != nil {
			return nil, err
		}
	}

	v := &Voice{Buffer: b, dev: d, done: make(chan struct{}), Started: time.Now()}
	d.mu.Lock()
	d.plays = append(d.plays, v)
	d.audible++
	if d.audible > d.maxAudible {
		d.maxAudible = d.audible
	}
	d.mu.Unlock()

	if d.AutoComplete > 0 {
		time.AfterFunc(d.AutoComplete, func() { v.Finish(nil) })
	}
	return v, nil
}

// Suspend records a speaker mute.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = true
	d.suspendCalls++
	return nil
}

// Resume records a speaker unmute.
func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
	d.resumeCalls++
	return nil
}

// Close records a device release and stops any audible voice.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closeCalls++
	plays := append([]*Voice(nil), d.plays...)
	d.mu.Unlock()
	for _, v := range plays {
		v.Stop()
	}
	return nil
}

// Plays returns every voice started so far, in start order.
func (d *Device) Plays() []*Voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Voice(nil), d.plays...)
}

// Audible returns the number of voices currently playing.
func (d *Device) Audible() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audible
}

// MaxAudible returns the largest number of simultaneously audible voices
// observed.
func (d *Device) MaxAudible() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxAudible
}

// Suspended reports whether the device is muted.
func (d *Device) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// Calls returns how many times Suspend, Resume and Close were called.
func (d *Device) Calls() (suspend, resume, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspendCalls, d.resumeCalls, d.closeCalls
}

// WaitPlay blocks until at least n+1 voices have started and returns voice n.
// It fails the test after a second.
func (d *Device) WaitPlay(t testing.TB, n int) *Voice {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if plays := d.Plays(); len(plays) > n {
			return plays[n]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("mock device: voice %d never started (have %d)", n, len(d.Plays()))
	return nil
}

// Voice is a mock [playback.Voice].
type Voice struct {
	Buffer  *audio.Buffer
	Started time.Time

	dev     *Device
	once    sync.Once
	done    chan struct{}
	err     error
	stopped bool
}

// Done implements [playback.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Err implements [playback.Voice].
func (v *Voice) Err() error {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	return v.err
}

// Stop implements [playback.Voice].
func (v *Voice) Stop() {
	v.end(nil, true)
}

// Finish completes the voice naturally (err == nil) or with a playback
// failure.
func (v *Voice) Finish(err error) {
	v.end(err, false)
}

// Stopped reports whether the voice was halted by Stop rather than finished.
func (v *Voice) Stopped() bool {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	return v.stopped
}

// Ended reports whether the voice is no longer audible.
func (v *Voice) Ended() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

func (v *Voice) end(err error, stopped bool) {
	v.once.Do(func() {
		v.dev.mu.Lock()
		v.err = err
		v.stopped = stopped
		v.dev.audible--
		v.dev.mu.Unlock()
		close(v.done)
	})
}
