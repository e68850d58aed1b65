package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/baderanaas/hushroom/pkg/store"
)

const contactsKey = "contacts"

var ErrInvalidContact = errors.New("invalid contact")

// Contact is a named shortcut to a room code.
type Contact struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Contacts manages the contact list.
type Contacts struct {
	contacts map[string]Contact
	lock     sync.RWMutex
	kv       store.KV
}

// NewContacts loads the contact list from kv.
func NewContacts(kv store.KV) (*Contacts, error) {
	c := &Contacts{
		contacts: make(map[string]Contact),
		kv:       kv,
	}
	raw, ok, err := kv.Get(contactsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	if !ok {
		return c, nil
	}

	var list []Contact
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode contacts: %w", err)
	}
	for _, contact := range list {
		c.contacts[strings.ToLower(contact.Name)] = contact
	}
	return c, nil
}

// Add stores or replaces a contact. Names are case-insensitive.
func (c *Contacts) Add(name, code string) (Contact, error) {
	name = strings.TrimSpace(name)
	code = NormalizeCode(code)
	if name == "" || strings.ContainsAny(name, " \t") {
		return Contact{}, fmt.Errorf("%w: name %q", ErrInvalidContact, name)
	}
	if !ValidCode(code) {
		return Contact{}, fmt.Errorf("%w: code %q", ErrInvalidContact, code)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	key := strings.ToLower(name)
	prev, had := c.contacts[key]
	contact := Contact{Name: name, Code: code}
	c.contacts[key] = contact
	if err := c.saveUnlocked(); err != nil {
		if had {
			c.contacts[key] = prev
		} else {
			delete(c.contacts, key)
		}
		return Contact{}, err
	}
	return contact, nil
}

// Get returns a contact by name.
func (c *Contacts) Get(name string) (Contact, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	contact, ok := c.contacts[strings.ToLower(strings.TrimSpace(name))]
	return contact, ok
}

// List returns all contacts ordered by name.
func (c *Contacts) List() []Contact {
	c.lock.RLock()
	defer c.lock.RUnlock()

	list := make([]Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		list = append(list, contact)
	}
	sort.Slice(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
	return list
}

func (c *Contacts) saveUnlocked() error {
	list := make([]Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		list = append(list, contact)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode contacts: %w", err)
	}
	if err := c.kv.Set(contactsKey, string(raw)); err != nil {
		return fmt.Errorf("failed to save contacts: %w", err)
	}
	return nil
}
