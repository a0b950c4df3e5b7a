// Package selection groups fetched items by keyword label and tracks which of
// them the user has checked for export.
package selection

import (
	"sync"

	"github.com/JakeFAU/news-digest/internal/news"
)

// Key identifies one displayed item. Titles repeat within a label, so the
// ordinal (position inside the label's sequence) is part of the identity.
type Key struct {
	Label   string `json:"label"`
	Title   string `json:"title"`
	Ordinal int    `json:"ordinal"`
}

// Groups holds items bucketed by label in first-seen label order.
type Groups struct {
	labels []string
	items  map[string][]news.Item
}

// GroupByLabel buckets items by label, preserving first-seen label order and
// input order inside each label.
func GroupByLabel(items []news.Item) *Groups {
	g := &Groups{items: make(map[string][]news.Item)}
	for _, item := range items {
		if _, seen := g.items[item.Label]; !seen {
			g.labels = append(g.labels, item.Label)
		}
		g.items[item.Label] = append(g.items[item.Label], item)
	}
	return g
}

// Labels returns the labels in first-seen order.
func (g *Groups) Labels() []string {
	out := make([]string, len(g.labels))
	copy(out, g.labels)
	return out
}

// Items returns the items recorded under label.
func (g *Groups) Items(label string) []news.Item {
	src := g.items[label]
	out := make([]news.Item, len(src))
	copy(out, src)
	return out
}

// Item returns the item at ordinal within label.
func (g *Groups) Item(label string, ordinal int) (news.Item, bool) {
	src := g.items[label]
	if ordinal < 0 || ordinal >= len(src) {
		return news.Item{}, false
	}
	return src[ordinal], true
}

// KeyFor builds the selection key of the item at ordinal within label.
func (g *Groups) KeyFor(label string, ordinal int) (Key, bool) {
	item, ok := g.Item(label, ordinal)
	if !ok {
		return Key{}, false
	}
	return Key{Label: label, Title: item.Title, Ordinal: ordinal}, true
}

// Keys returns every key in display traversal order.
func (g *Groups) Keys() []Key {
	var keys []Key
	for _, label := range g.labels {
		for idx, item := range g.items[label] {
			keys = append(keys, Key{Label: label, Title: item.Title, Ordinal: idx})
		}
	}
	return keys
}

// Len reports the total number of grouped items.
func (g *Groups) Len() int {
	n := 0
	for _, items := range g.items {
		n += len(items)
	}
	return n
}

// State records checked keys. It is safe for concurrent use.
type State struct {
	mu      sync.RWMutex
	checked map[Key]bool
}

// NewState returns an empty selection.
func NewState() *State {
	return &State{checked: make(map[Key]bool)}
}

// Set marks key as checked or unchecked.
func (s *State) Set(key Key, checked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if checked {
		s.checked[key] = true
		return
	}
	delete(s.checked, key)
}

// IsChecked reports whether key is currently checked.
func (s *State) IsChecked(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checked[key]
}

// Replace clears the selection and checks exactly keys.
func (s *State) Replace(keys []Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = make(map[Key]bool, len(keys))
	for _, key := range keys {
		s.checked[key] = true
	}
}

// Reset unchecks everything.
func (s *State) Reset() {
	s.Replace(nil)
}

// Checked returns the checked items of groups in display traversal order.
// Keys that no longer match an item (stale title or ordinal) are ignored.
func (s *State) Checked(groups *Groups) []news.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []news.Item
	for _, label := range groups.labels {
		for idx, item := range groups.items[label] {
			if s.checked[Key{Label: label, Title: item.Title, Ordinal: idx}] {
				out = append(out, item)
			}
		}
	}
	return out
}
