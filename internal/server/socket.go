package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/media"
	"github.com/MrWong99/babelcall/internal/observe"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval

	// maxFrameSize bounds one client message. Mic frames are far smaller.
	maxFrameSize = 1 << 20
)

// Client command types.
const (
	CmdProfileSet    = "profile.set"
	CmdCallStart     = "call.start"
	CmdCallEnd       = "call.end"
	CmdMediaToggle   = "media.toggle"
	CmdSpeakerToggle = "speaker.toggle"
	CmdTranscript    = "transcript"
	CmdLanguageSet   = "language.set"
)

// Command is the envelope of every client to server text message.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProfilePayload updates the local user. Empty fields are kept.
type ProfilePayload struct {
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Language string `json:"language,omitempty"`
}

// CallStartPayload names the group or contact to call.
type CallStartPayload struct {
	GroupID   string `json:"groupId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
}

// MediaTogglePayload names the track to toggle: "audio" or "video".
type MediaTogglePayload struct {
	Kind media.Kind `json:"kind"`
}

// TranscriptPayload is typed text submitted as a final transcript.
type TranscriptPayload struct {
	Text string `json:"text"`
}

// LanguagePayload names a language by display name, tag or a close spelling.
type LanguagePayload struct {
	Language string `json:"language"`
}

// HelloPayload is the state snapshot sent to a client after it connects.
type HelloPayload struct {
	ClientID  string          `json:"clientId"`
	Profile   chat.User       `json:"profile"`
	Contacts  []chat.User     `json:"contacts"`
	Groups    []chat.Group    `json:"groups"`
	Languages []LanguageEntry `json:"languages"`
	Call      *call.Info      `json:"call,omitempty"`
	SpeakerID string          `json:"speakerId,omitempty"`
	Busy      bool            `json:"busy"`
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Warn("server: websocket upgrade", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(r.Context(), func() { _ = conn.Close() })
	defer stop()

	c := &client{id: uuid.NewString(), send: make(chan Event, sendBuffer)}
	log := observe.Logger(r.Context()).With("client_id", c.id)
	log.Info("client connected", "remote", r.RemoteAddr)

	s.hub.add(c)
	s.hub.send(c, Event{Type: EventHello, Payload: s.hello(c.id)})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, c)
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("server: websocket read", "err", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch typ {
		case websocket.BinaryMessage:
			s.cfg.Calls.PushAudio(data)
		case websocket.TextMessage:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				s.hub.send(c, errorEvent("", fmt.Errorf("malformed command: %w", err)))
				continue
			}
			if err := s.dispatch(ctx, cmd); err != nil {
				log.Warn("server: command failed", "command", cmd.Type, "err", err)
				s.hub.send(c, errorEvent(cmd.Type, err))
			}
		}
	}

	s.hub.remove(c)
	<-writerDone
	log.Info("client disconnected")
}

// writeLoop drains the client's queue and keeps the socket alive. It returns
// when the hub closes the queue or a write fails.
func (s *Server) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("server: websocket write", "client_id", c.id, "err", err)
				// Unblock the reader so the client is removed.
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// dispatch executes one client command. State changes are broadcast to all
// clients; the returned error is reported to the sender only.
func (s *Server) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CmdProfileSet:
		var p ProfilePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return s.setProfile(ctx, p)

	case CmdLanguageSet:
		var p LanguagePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return s.setProfile(ctx, ProfilePayload{Language: p.Language})

	case CmdCallStart:
		var p CallStartPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		info, err := s.cfg.Calls.Start(ctx, call.StartRequest{GroupID: p.GroupID, ContactID: p.ContactID})
		if err != nil {
			return err
		}
		s.hub.Broadcast(Event{Type: EventCallStarted, Payload: info})
		return nil

	case CmdCallEnd:
		ctx, cancel := context.WithTimeout(ctx, s.cfg.EndTimeout)
		defer cancel()
		info, err := s.cfg.Calls.End(ctx)
		if err != nil {
			return err
		}
		s.hub.Broadcast(Event{Type: EventCallEnded, Payload: info})
		return nil

	case CmdMediaToggle:
		var p MediaTogglePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		var err error
		switch p.Kind {
		case media.KindAudio:
			_, err = s.cfg.Calls.ToggleMic(ctx)
		case media.KindVideo:
			_, err = s.cfg.Calls.ToggleVideo()
		default:
			return fmt.Errorf("unknown media kind %q", p.Kind)
		}
		s.broadcastCall()
		return err

	case CmdSpeakerToggle:
		_, err := s.cfg.Calls.ToggleSpeaker()
		s.broadcastCall()
		return err

	case CmdTranscript:
		var p TranscriptPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		if strings.TrimSpace(p.Text) == "" {
			return errors.New("empty transcript")
		}
		return s.cfg.Calls.Submit(p.Text)

	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}

func (s *Server) setProfile(ctx context.Context, p ProfilePayload) error {
	dir := s.cfg.Directory
	if p.Language != "" {
		lang, err := chat.ParseLanguage(p.Language)
		if err != nil {
			return err
		}
		if err := s.cfg.Calls.SetLanguage(ctx, lang); err != nil {
			return err
		}
	}
	if p.Name != "" || p.Avatar != "" {
		u := dir.Local()
		if p.Name != "" {
			u.Name = strings.TrimSpace(p.Name)
		}
		if p.Avatar != "" {
			u.Avatar = p.Avatar
		}
		dir.SetLocal(u)
	}
	s.hub.Broadcast(Event{Type: EventProfile, Payload: dir.Local()})
	return nil
}

func (s *Server) broadcastCall() {
	if info, ok := s.cfg.Calls.Info(); ok {
		s.hub.Broadcast(Event{Type: EventCallUpdated, Payload: info})
	}
}

func (s *Server) hello(clientID string) HelloPayload {
	ind := s.hub.indicatorState()
	p := HelloPayload{
		ClientID:  clientID,
		Profile:   s.cfg.Directory.Local(),
		Contacts:  s.cfg.Directory.Contacts(),
		Groups:    s.cfg.Directory.Store().Groups(),
		Languages: languageEntries(),
		SpeakerID: ind.Speaker,
		Busy:      ind.Busy,
	}
	if info, ok := s.cfg.Calls.Info(); ok {
		p.Call = &info
	}
	return p
}

func decode(cmd Command, v any) error {
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", cmd.Type)
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", cmd.Type, err)
	}
	return nil
}

func errorEvent(command string, err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Command: command, Message: err.Error()}}
}
