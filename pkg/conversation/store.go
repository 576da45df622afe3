// Package conversation holds the transcript of a realtime session and the
// dispatcher that folds inbound peer-channel events into it.
package conversation

import "sync"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a wire role onto a Role. Only user and assistant are kept.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), true
	default:
		return "", false
	}
}

// Item is one turn of the exchange.
type Item struct {
	ID   string
	Role Role
	Text string
}

// Store keeps items in first-seen order plus an id index. Both are only
// written through put, so they hold the same ids and the same text.
type Store struct {
	mu    sync.RWMutex
	items []Item
	index map[string]Item
	pos   map[string]int
}

func NewStore() *Store {
	return &Store{
		index: make(map[string]Item),
		pos:   make(map[string]int),
	}
}

// Reset drops every item.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]Item)
	s.pos = make(map[string]int)
}

func (s *Store) put(item Item) {
	if i, ok := s.pos[item.ID]; ok {
		s.items[i] = item
	} else {
		s.pos[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	s.index[item.ID] = item
}

// Create adds a new item. It returns false when the id is already known or
// empty; the existing item is left untouched.
func (s *Store) Create(id string, role Role, text string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return Item{}, false
	}
	if existing, ok := s.index[id]; ok {
		return existing, false
	}
	item := Item{ID: id, Role: role, Text: text}
	s.put(item)
	return item, true
}

// Append adds delta to the text of a known item.
func (s *Store) Append(id, delta string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	item.Text += delta
	s.put(item)
	return item, true
}

// Replace overwrites the text of a known item.
func (s *Store) Replace(id, text string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	item.Text = text
	s.put(item)
	return item, true
}

func (s *Store) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.index[id]
	return item, ok
}

// Items returns a copy of the items in first-seen order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Consistent reports whether the ordered items and the index agree.
func (s *Store) Consistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) != len(s.index) || len(s.items) != len(s.pos) {
		return false
	}
	for i, item := range s.items {
		if s.pos[item.ID] != i {
			return false
		}
		if indexed, ok := s.index[item.ID]; !ok || indexed != item {
			return false
		}
	}
	return true
}
