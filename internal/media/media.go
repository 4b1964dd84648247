// Package media models the local participant's capture stream: one audio and
// one video track that can be switched on and off independently.
//
// Frames are pushed into a track by whatever owns the physical capture (for
// the server that is the client's WebSocket connection) and consumed by the
// speech recognizer. A disabled track drops frames instead of queueing them,
// like a muted microphone.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind names a track type.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ErrTrackStopped is returned by [Track.Write] after [Track.Stop].
var ErrTrackStopped = errors.New("media: track stopped")

// MediaAccessError reports that capture for a track kind could not be
// acquired, typically because the user denied permission. The call continues
// without that track.
type MediaAccessError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media: access %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *MediaAccessError) Unwrap() error { return e.Err }

const defaultFrameBuffer = 64

// Track is a single capture track. All methods are safe for concurrent use.
type Track struct {
	kind Kind

	mu      sync.RWMutex
	enabled bool
	stopped bool
	frames  chan []byte
	dropped int
}

// NewTrack returns an enabled track buffering up to buffer frames.
func NewTrack(kind Kind, buffer int) *Track {
	if buffer <= 0 {
		buffer = defaultFrameBuffer
	}
	return &Track{kind: kind, enabled: true, frames: make(chan []byte, buffer)}
}

// Kind returns the track type.
func (t *Track) Kind() Kind { return t.kind }

// Enabled reports whether frames are currently accepted.
func (t *Track) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled && !t.stopped
}

// SetEnabled switches the track on or off. It has no effect once stopped.
func (t *Track) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

// Toggle flips the enabled state and returns the new one.
func (t *Track) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = !t.enabled
	return t.enabled && !t.stopped
}

// Write offers a frame to the track's consumer. Frames written while the
// track is disabled, or while the consumer lags behind, are dropped.
func (t *Track) Write(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrTrackStopped
	}
	if !t.enabled {
		return nil
	}
	select {
	case t.frames <- frame:
	default:
		t.dropped++
	}
	return nil
}

// Frames returns the channel of accepted frames. It is closed by Stop.
func (t *Track) Frames() <-chan []byte { return t.frames }

// Dropped returns how many frames were discarded because the consumer lagged.
func (t *Track) Dropped() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

// Stop ends the track and closes its frame channel. Stop is idempotent.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.frames)
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

// Stream groups the tracks of one capture. Either track may be nil when it
// could not be acquired.
type Stream struct {
	Audio *Track
	Video *Track
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range []*Track{s.Audio, s.Video} {
		if t != nil {
			t.Stop()
		}
	}
}

// Constraints select the tracks to acquire. The audio processing flags are
// passed to the capture side, which applies them before frames reach the
// track.
type Constraints struct {
	Audio bool
	Video bool

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints requests both tracks with all audio processing on.
func DefaultConstraints() Constraints {
	return Constraints{
		Audio:            true,
		Video:            true,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Source acquires capture streams.
type Source interface {
	// Acquire returns a stream for the requested tracks. When some tracks
	// are unavailable the stream holds the rest and the error is a
	// *MediaAccessError for the first missing kind.
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}
