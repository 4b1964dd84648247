package media

import (
	"context"
	"errors"
	"sync"
)

// Compile-time interface assertion.
var _ Source = (*PushSource)(nil)

// ErrPermissionDenied is the cause of a [MediaAccessError] for a kind the
// client has not granted.
var ErrPermissionDenied = errors.New("permission denied")

// PushSource is a [Source] for clients that push their capture over the
// network. Frames are written into the acquired tracks by the receiving
// connection; which kinds the client offers is decided by
// [PushSource.Grant].
type PushSource struct {
	buffer int

	mu      sync.Mutex
	granted map[Kind]bool
}

// NewPushSource returns a source that has granted audio only. Tracks buffer
// up to buffer frames.
func NewPushSource(buffer int) *PushSource {
	return &PushSource{
		buffer:  buffer,
		granted: map[Kind]bool{KindAudio: true},
	}
}

// Grant changes whether kind may be acquired.
func (p *PushSource) Grant(kind Kind, ok bool) {
	p.mu.Lock()
	p.granted[kind] = ok
	p.mu.Unlock()
}

// Acquire implements [Source].
func (p *PushSource) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Stream{}
	var errs []error
	if c.Audio {
		if p.granted[KindAudio] {
			s.Audio = NewTrack(KindAudio, p.buffer)
		} else {
			errs = append(errs, &MediaAccessError{Kind: KindAudio, Err: ErrPermissionDenied})
		}
	}
	if c.Video {
		if p.granted[KindVideo] {
			s.Video = NewTrack(KindVideo, p.buffer)
		} else {
			errs = append(errs, &MediaAccessError{Kind: KindVideo, Err: ErrPermissionDenied})
		}
	}
	if len(errs) > 0 {
		return s, errs[0]
	}
	return s, nil
}
