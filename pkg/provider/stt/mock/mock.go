// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitFinal("hola")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, every
	// StartStream returns a fresh Session that is also recorded in Sessions.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records the sessions created when Session is nil.
	Sessions []*Session
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Calls returns a snapshot of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Sessions = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// errClosed is returned by SendAudio after Close.
var errClosed = errors.New("mock: session closed")

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of stt.SessionHandle. Like a real session
// it closes PartialsCh and FinalsCh on Close, so tests must not close them.
type Session struct {
	mu     sync.Mutex
	closed bool

	// PartialsCh is the channel returned by Partials().
	PartialsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals().
	FinalsCh chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript {
	return s.PartialsCh
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript {
	return s.FinalsCh
}

// EmitPartial delivers an interim transcript. It is a no-op after Close.
func (s *Session) EmitPartial(text string) {
	s.emit(s.PartialsCh, stt.Transcript{Text: text})
}

// EmitFinal delivers a final transcript. It is a no-op after Close.
func (s *Session) EmitFinal(text string) {
	s.emit(s.FinalsCh, stt.Transcript{Text: text, IsFinal: true})
}

func (s *Session) emit(ch chan stt.Transcript, t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ch <- t
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close records the call, closes the transcript channels once and returns
// CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.PartialsCh)
		close(s.FinalsCh)
	}
	return s.CloseErr
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
