// Package chat holds the conversation state of a call: the participants,
// their groups and the messages exchanged in them.
//
// All state lives in memory. [MemStore] is the single owner of groups and
// messages; callers mutate a message only through [MemStore.UpdateMessage],
// which applies the change atomically and never lets the delivery status move
// backwards.
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the delivery state of a message. The zero value is
// [StatusSending].
type Status int

// Delivery states in the order a message passes through them.
const (
	StatusSending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = [...]string{"sending", "sent", "delivered", "read"}

// String returns the lower-case state name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Advance returns the later of s and next. Status updates go through it so
// that a late or reordered update can never regress a message.
func (s Status) Advance(next Status) Status {
	if next > s {
		return next
	}
	return s
}

// MarshalText implements [encoding.TextMarshaler].
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("chat: invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Status) UnmarshalText(text []byte) error {
	for i, n := range statusNames {
		if n == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("chat: unknown status %q", text)
}

// User is a call participant.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
	Language Language `json:"language"`
}

// Message is one utterance in a group conversation.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`

	// Text is the utterance as spoken, in the sender's language.
	Text string `json:"text"`

	// TranslatedText is set once a translation for the other participant
	// is available. Empty means only the original exists.
	TranslatedText string `json:"translatedText,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Group is a conversation between a fixed set of members.
type Group struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Members    []User    `json:"members"`
	Messages   []Message `json:"messages"`
	LastActive time.Time `json:"lastActive"`
}

// Member returns the member with the given id.
func (g *Group) Member(id string) (User, bool) {
	for _, m := range g.Members {
		if m.ID == id {
			return m, true
		}
	}
	return User{}, false
}

// Peers returns every member except the one with id self.
func (g *Group) Peers(self string) []User {
	out := make([]User, 0, len(g.Members))
	for _, m := range g.Members {
		if m.ID != self {
			out = append(out, m)
		}
	}
	return out
}

// MarshalJSON emits an empty array for a group without messages so clients
// never see null.
func (g Group) MarshalJSON() ([]byte, error) {
	type plain Group
	if g.Messages == nil {
		g.Messages = []Message{}
	}
	if g.Members == nil {
		g.Members = []User{}
	}
	return json.Marshal(plain(g))
}

// clone returns a deep copy of g so callers can never alias store state.
func (g *Group) clone() Group {
	c := *g
	c.Members = append([]User(nil), g.Members...)
	c.Messages = append([]Message(nil), g.Messages...)
	return c
}
