// Package selection tracks the entities the user has picked and restores
// their appearance when they are deselected.
package selection

import (
	"context"
	"strings"
	"sync"

	"github.com/signalsfoundry/globe-tracker/model"
)

// Selectable is the capability an entity needs to take part in a selection.
// Implementations must be pointer types: membership is by identity.
type Selectable interface {
	VisualState() model.Color
	SetVisualState(model.Color)
	HighlightState() model.Color
}

// Describer is implemented by members that can render an info-panel text.
type Describer interface {
	Describe(ctx context.Context) string
}

type member struct {
	item  Selectable
	prior model.Color
}

// Selection is an ordered identity set. Each member's visual state from
// before it joined is recorded and restored exactly once when it leaves.
type Selection struct {
	mu      sync.Mutex
	members []member
}

// New returns an empty selection.
func New() *Selection {
	return &Selection{}
}

// Set replaces the selection with items.
func (s *Selection) Set(items ...Selectable) {
	s.Clear()
	for _, it := range items {
		s.Add(it)
	}
}

// Add highlights item and appends it. Adding a member twice is a no-op, so
// the recorded state is never the highlight itself.
func (s *Selection) Add(item Selectable) {
	if item == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(item) >= 0 {
		return
	}
	s.members = append(s.members, member{item: item, prior: item.VisualState()})
	item.SetVisualState(item.HighlightState())
}

// Clear restores every member and empties the selection.
func (s *Selection) Clear() {
	s.mu.Lock()
	members := s.members
	s.members = nil
	s.mu.Unlock()

	for _, m := range members {
		m.item.SetVisualState(m.prior)
	}
}

// Remove restores and drops item. It reports whether item was a member.
func (s *Selection) Remove(item Selectable) bool {
	s.mu.Lock()
	idx := s.indexLocked(item)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	m := s.members[idx]
	s.members = append(s.members[:idx], s.members[idx+1:]...)
	s.mu.Unlock()

	m.item.SetVisualState(m.prior)
	return true
}

// Restyle changes item's resting colour. A member keeps its highlight and c
// becomes the colour restored when it leaves; any other item is painted c
// at once. It reports whether item was a member.
func (s *Selection) Restyle(item Selectable, c model.Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(item); idx >= 0 {
		s.members[idx].prior = c
		return true
	}
	item.SetVisualState(c)
	return false
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// At returns the i-th member in insertion order, or nil when out of range.
func (s *Selection) At(i int) Selectable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.members) {
		return nil
	}
	return s.members[i].item
}

// First returns the earliest member, or nil.
func (s *Selection) First() Selectable {
	return s.At(0)
}

// Members returns a copy of the members in insertion order.
func (s *Selection) Members() []Selectable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Selectable, len(s.members))
	for i, m := range s.members {
		out[i] = m.item
	}
	return out
}

func (s *Selection) Contains(item Selectable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexLocked(item) >= 0
}

func (s *Selection) indexLocked(item Selectable) int {
	for i, m := range s.members {
		if m.item == item {
			return i
		}
	}
	return -1
}

// Describe joins the descriptions of every describable member, in order,
// separated by blank lines.
func (s *Selection) Describe(ctx context.Context) string {
	var parts []string
	for _, m := range s.Members() {
		if d, ok := m.(Describer); ok {
			parts = append(parts, d.Describe(ctx))
		}
	}
	return strings.Join(parts, "\n\n")
}
