package chat

import (
	"fmt"
	"sync"
)

// DemoGroupName is the name of the group seeded at startup.
const DemoGroupName = "Global Team Meeting"

// DefaultContacts returns the built-in address book used when the
// configuration names no contacts.
func DefaultContacts() []User {
	return []User{
		{ID: "u2", Name: "Alice", Avatar: "👩‍🎨", Language: Spanish},
		{ID: "u3", Name: "Bob", Avatar: "👨‍🚀", Language: French},
		{ID: "u4", Name: "Kenji", Avatar: "🧑‍🍳", Language: Japanese},
		{ID: "u5", Name: "Marta", Avatar: "👩‍⚖️", Language: German},
		{ID: "u6", Name: "Wang", Avatar: "👨‍🔬", Language: ChineseMandarin},
		{ID: "u7", Name: "Maria", Avatar: "👩‍🏫", Language: Tagalog},
		{ID: "u8", Name: "Lina", Avatar: "👩‍⚕️", Language: Cebuano},
		{ID: "u9", Name: "Raj", Avatar: "👨‍💻", Language: Hindi},
	}
}

// Directory is the address book of the local user. It knows the local
// profile and the contacts that can be called, and creates groups in the
// underlying [MemStore].
type Directory struct {
	store    *MemStore
	contacts []User

	mu    sync.RWMutex
	local User
}

// NewDirectory returns a directory over store. Contacts without an id get
// one derived from their position.
func NewDirectory(store *MemStore, local User, contacts []User) *Directory {
	cs := make([]User, len(contacts))
	for i, c := range contacts {
		if c.ID == "" {
			c.ID = fmt.Sprintf("u%d", i+2)
		}
		cs[i] = c
	}
	if local.ID == "" {
		local.ID = "u1"
	}
	return &Directory{store: store, contacts: cs, local: local}
}

// Store returns the underlying message store.
func (d *Directory) Store() *MemStore { return d.store }

// Local returns the local user's profile.
func (d *Directory) Local() User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.local
}

// SetLocal replaces the local profile. The id is kept.
func (d *Directory) SetLocal(u User) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u.ID = d.local.ID
	d.local = u
	return u
}

// Contacts returns a copy of the address book.
func (d *Directory) Contacts() []User {
	return append([]User(nil), d.contacts...)
}

// Contact looks a contact up by id.
func (d *Directory) Contact(id string) (User, error) {
	for _, c := range d.contacts {
		if c.ID == id {
			return c, nil
		}
	}
	return User{}, fmt.Errorf("chat: contact %q: %w", id, ErrNotFound)
}

// SeedDemoGroup creates the demo group with the local user and the first
// contact.
func (d *Directory) SeedDemoGroup() Group {
	members := []User{d.Local()}
	if len(d.contacts) > 0 {
		members = append(members, d.contacts[0])
	}
	return d.store.CreateGroup(DemoGroupName, members)
}

// DirectGroup returns the one-to-one group between the local user and the
// contact, creating it named after the contact if none exists.
func (d *Directory) DirectGroup(contactID string) (Group, error) {
	c, err := d.Contact(contactID)
	if err != nil {
		return Group{}, err
	}
	local := d.Local()
	for _, g := range d.store.Groups() {
		if len(g.Members) != 2 {
			continue
		}
		_, hasLocal := g.Member(local.ID)
		_, hasContact := g.Member(c.ID)
		if hasLocal && hasContact {
			return g, nil
		}
	}
	return d.store.CreateGroup(c.Name, []User{local, c}), nil
}

// CreateGroup creates a group of the local user and the named contacts.
func (d *Directory) CreateGroup(name string, contactIDs []string) (Group, error) {
	members := []User{d.Local()}
	for _, id := range contactIDs {
		c, err := d.Contact(id)
		if err != nil {
			return Group{}, err
		}
		members = append(members, c)
	}
	if name == "" {
		name = members[len(members)-1].Name
	}
	return d.store.CreateGroup(name, members), nil
}
