// Package speaker plays buffers on the host's default audio output using
// ebitengine/oto.
//
// oto permits a single context per process, so all [Device] values share one
// lazily created context. The first device opened fixes the hardware format;
// later devices convert their buffers to it.
package speaker

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/audio/playback"
)

// Compile-time interface assertion.
var _ playback.Device = (*Device)(nil)

// ErrClosed is returned by [Device.Play] after [Device.Close].
var ErrClosed = errors.New("speaker: device closed")

const defaultPollInterval = 10 * time.Millisecond

// shared holds the process-wide oto context.
var shared struct {
	once   sync.Once
	ctx    *oto.Context
	format audio.Format
	err    error
}

func otoContext(f audio.Format) (*oto.Context, audio.Format, error) {
	shared.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			shared.err = fmt.Errorf("speaker: create oto context: %w", err)
			return
		}
		<-ready
		shared.ctx = ctx
		shared.format = f
		slog.Info("speaker: audio output initialised", "format", f.String())
	})
	if shared.err == nil && shared.format != f {
		slog.Warn("speaker: oto context already open with a different format, converting",
			"requested", f.String(),
			"actual", shared.format.String(),
		)
	}
	return shared.ctx, shared.format, shared.err
}

// Option configures a [Device].
type Option func(*Device)

// WithFormat sets the hardware format requested when the shared context is
// first created. Defaults to [audio.SpeechFormat].
func WithFormat(f audio.Format) Option {
	return func(d *Device) {
		if f.Valid() {
			d.want = f
		}
	}
}

// WithPollInterval sets how often voices check whether oto has drained them.
func WithPollInterval(iv time.Duration) Option {
	return func(d *Device) {
		if iv > 0 {
			d.poll = iv
		}
	}
}

// Device is a [playback.Device] backed by the shared oto context. The
// context is opened on first use, not on construction, so that audio is only
// initialised after the user interacts.
type Device struct {
	want audio.Format
	poll time.Duration

	mu     sync.Mutex
	ctx    *oto.Context
	conv   *audio.FormatConverter
	voices map[*voice]struct{}
	closed bool
}

// New returns an unopened device.
func New(opts ...Option) *Device {
	d := &Device{
		want:   audio.SpeechFormat,
		poll:   defaultPollInterval,
		voices: make(map[*voice]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open initialises the shared output context if needed and resumes it. Open
// is idempotent.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openLocked()
}

func (d *Device) openLocked() error {
	if d.closed {
		return ErrClosed
	}
	if d.ctx != nil {
		return nil
	}
	ctx, f, err := otoContext(d.want)
	if err != nil {
		return err
	}
	if err := ctx.Resume(); err != nil {
		return fmt.Errorf("speaker: resume: %w", err)
	}
	d.ctx = ctx
	d.conv = &audio.FormatConverter{Target: f}
	return nil
}

// Play implements [playback.Device].
func (d *Device) Play(b *audio.Buffer) (playback.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.openLocked(); err != nil {
		return nil, err
	}

	pcm := d.conv.Convert(b).PCM16()
	p := d.ctx.NewPlayer(bytes.NewReader(pcm))
	p.Play()

	v := &voice{player: p, done: make(chan struct{})}
	d.voices[v] = struct{}{}
	go d.watch(v)
	return v, nil
}

// Suspend mutes the output without discarding any in-flight audio.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	return d.ctx.Suspend()
}

// Resume unmutes the output.
func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	return d.ctx.Resume()
}

// Close stops every voice and suspends the shared context. oto cannot destroy
// a context, so a later device reuses it. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	voices := make([]*voice, 0, len(d.voices))
	for v := range d.voices {
		voices = append(voices, v)
	}
	ctx := d.ctx
	d.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if ctx != nil {
		return ctx.Suspend()
	}
	return nil
}

// watch polls v until oto has played it out or it is stopped.
func (d *Device) watch(v *voice) {
	t := time.NewTicker(d.poll)
	defer t.Stop()
	defer func() {
		d.mu.Lock()
		delete(d.voices, v)
		d.mu.Unlock()
	}()

	for {
		select {
		case <-v.done:
			return
		case <-t.C:
			if v.player.IsPlaying() {
				continue
			}
			v.end(v.player.Err())
			return
		}
	}
}

type voice struct {
	player *oto.Player

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *voice) Stop() {
	v.once.Do(func() {
		v.player.Pause()
		_ = v.player.Close()
		close(v.done)
	})
}

func (v *voice) end(err error) {
	v.once.Do(func() {
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		_ = v.player.Close()
		close(v.done)
	})
}
