package chat

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a group or message does not exist.
var ErrNotFound = errors.New("chat: not found")

// EventKind identifies a store change.
type EventKind int

const (
	GroupCreated EventKind = iota + 1
	GroupDeleted
	MessageAdded
	MessageUpdated
)

var eventNames = map[EventKind]string{
	GroupCreated:   "group.created",
	GroupDeleted:   "group.deleted",
	MessageAdded:   "message.added",
	MessageUpdated: "message.updated",
}

// String returns the dotted event name used on the client socket.
func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event describes a single change to the store. Message is set for message
// events, Group for group events.
type Event struct {
	Kind    EventKind
	GroupID string
	Message Message
	Group   Group
}

// MemStore is a thread-safe, in-memory store of groups and their messages.
// Use [NewMemStore] to create one.
type MemStore struct {
	now func() time.Time

	mu     sync.RWMutex
	groups map[string]*Group

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		now:    time.Now,
		groups: make(map[string]*Group),
		subs:   make(map[int]chan Event),
	}
}

// CreateGroup adds a new group with a generated id and returns a copy of it.
func (s *MemStore) CreateGroup(name string, members []User) Group {
	g := &Group{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		Members:    append([]User(nil), members...),
		LastActive: s.now(),
	}

	s.mu.Lock()
	s.groups[g.ID] = g
	out := g.clone()
	s.mu.Unlock()

	s.publish(Event{Kind: GroupCreated, GroupID: out.ID, Group: out})
	return out
}

// Group returns a copy of the group with the given id.
func (s *MemStore) Group(id string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g.clone(), nil
}

// Groups returns copies of all groups, most recently active first.
func (s *MemStore) Groups() []Group {
	s.mu.RLock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.clone())
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Group) int {
		if c := b.LastActive.Compare(a.LastActive); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// DeleteGroup removes a group and its messages.
func (s *MemStore) DeleteGroup(id string) error {
	s.mu.Lock()
	g, ok := s.groups[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.groups, id)
	out := g.clone()
	s.mu.Unlock()

	s.publish(Event{Kind: GroupDeleted, GroupID: id, Group: out})
	return nil
}

// AppendMessage adds m to the end of a group's conversation. A missing id or
// timestamp is filled in. The stored message is returned.
func (s *MemStore) AppendMessage(groupID string, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	s.mu.Lock()
	g, ok := s.groups[groupID]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}
	g.Messages = append(g.Messages, m)
	if m.Timestamp.After(g.LastActive) {
		g.LastActive = m.Timestamp
	}
	s.mu.Unlock()

	s.publish(Event{Kind: MessageAdded, GroupID: groupID, Message: m})
	return m, nil
}

// UpdateMessage applies fn to a copy of the message and stores the result as
// one atomic read-modify-write. fn may not change the id or sender, and a
// status change is clamped with [Status.Advance] so it can only move forward.
// fn runs with the store locked and must not call back into the store.
func (s *MemStore) UpdateMessage(groupID, msgID string, fn func(*Message)) (Message, error) {
	s.mu.Lock()
	g, ok := s.groups[groupID]
	if !ok {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}
	i := slices.IndexFunc(g.Messages, func(m Message) bool { return m.ID == msgID })
	if i < 0 {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}

	old := g.Messages[i]
	m := old
	fn(&m)
	m.ID, m.SenderID = old.ID, old.SenderID
	m.Status = old.Status.Advance(m.Status)
	g.Messages[i] = m
	s.mu.Unlock()

	if m != old {
		s.publish(Event{Kind: MessageUpdated, GroupID: groupID, Message: m})
	}
	return m, nil
}

// AdvanceStatus moves a message's status forward to st. It is a no-op when
// the message is already at or past st.
func (s *MemStore) AdvanceStatus(groupID, msgID string, st Status) (Message, error) {
	return s.UpdateMessage(groupID, msgID, func(m *Message) { m.Status = st })
}

// Subscribe returns a channel receiving every subsequent change and a
// function that ends the subscription. Events are delivered without blocking
// the store: a subscriber whose buffer is full misses events.
func (s *MemStore) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *MemStore) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
