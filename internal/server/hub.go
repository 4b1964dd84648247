package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/babelcall/internal/call"
	"github.com/MrWong99/babelcall/internal/chat"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/orchestrator"
)

// Event types pushed to clients.
const (
	EventHello          = "hello"
	EventMessageAdded   = "message.added"
	EventMessageUpdated = "message.updated"
	EventGroupCreated   = "group.created"
	EventGroupDeleted   = "group.deleted"
	EventSpeaker        = "speaker"
	EventBusy           = "busy"
	EventInterim        = "interim"
	EventCallStarted    = "call.started"
	EventCallUpdated    = "call.updated"
	EventCallEnded      = "call.ended"
	EventProfile        = "profile.updated"
	EventError          = "error"
)

// sendBuffer is the per-client backlog before events are dropped.
const sendBuffer = 64

// Event is the envelope of every server to client message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// MessagePayload carries a message event.
type MessagePayload struct {
	GroupID string       `json:"groupId"`
	Message chat.Message `json:"message"`
}

// SpeakerPayload names the highlighted participant. Empty means nobody.
type SpeakerPayload struct {
	SpeakerID string `json:"speakerId"`
}

// BusyPayload reports whether a reply is being produced.
type BusyPayload struct {
	Busy bool `json:"busy"`
}

// InterimPayload is the live transcript line.
type InterimPayload struct {
	Text string `json:"text"`
}

// ErrorPayload answers a failed command.
type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// client is one connected socket. send is closed by the hub on removal.
type client struct {
	id   string
	send chan Event
}

// Hub fans events out to every connected client. A client that falls behind
// loses events instead of blocking the others.
type Hub struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu      sync.RWMutex
	clients map[string]*client

	indMu sync.Mutex
	ind   orchestrator.IndicatorState
}

// NewHub returns an empty hub. metrics may be nil.
func NewHub(metrics *observe.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, metrics: metrics, clients: make(map[string]*client)}
}

// Hooks returns the call hooks that forward indicator and interim changes
// to the clients.
func (h *Hub) Hooks() call.Hooks {
	return call.Hooks{
		OnInterim:   func(text string) { h.Broadcast(Event{Type: EventInterim, Payload: InterimPayload{Text: text}}) },
		OnIndicator: h.indicator,
	}
}

// Watch forwards store events until ctx is done.
func (h *Hub) Watch(ctx context.Context, store *chat.MemStore) {
	events, cancel := store.Subscribe(sendBuffer)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(storeEvent(ev))
		}
	}
}

// Broadcast queues ev for every client.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, ev)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Add(context.Background(), 1)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Add(context.Background(), -1)
	}
}

// send queues ev for a single client.
func (h *Hub) send(c *client, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.deliver(c, ev)
	}
}

// deliver must be called with mu held.
func (h *Hub) deliver(c *client, ev Event) {
	select {
	case c.send <- ev:
	default:
		h.log.Warn("server: client too slow, dropping event", "client_id", c.id, "type", ev.Type)
	}
}

// indicator splits indicator changes into speaker and busy events.
func (h *Hub) indicator(s orchestrator.IndicatorState) {
	h.indMu.Lock()
	prev := h.ind
	h.ind = s
	h.indMu.Unlock()

	if s.Speaker != prev.Speaker {
		h.Broadcast(Event{Type: EventSpeaker, Payload: SpeakerPayload{SpeakerID: s.Speaker}})
	}
	if s.Busy != prev.Busy {
		h.Broadcast(Event{Type: EventBusy, Payload: BusyPayload{Busy: s.Busy}})
	}
}

func (h *Hub) indicatorState() orchestrator.IndicatorState {
	h.indMu.Lock()
	defer h.indMu.Unlock()
	return h.ind
}

func storeEvent(ev chat.Event) Event {
	switch ev.Kind {
	case chat.MessageAdded, chat.MessageUpdated:
		return Event{Type: ev.Kind.String(), Payload: MessagePayload{GroupID: ev.GroupID, Message: ev.Message}}
	case chat.GroupCreated:
		return Event{Type: EventGroupCreated, Payload: ev.Group}
	default:
		return Event{Type: ev.Kind.String(), Payload: map[string]string{"groupId": ev.GroupID}}
	}
}
