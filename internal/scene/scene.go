// Package scene is a headless render collaborator. It keeps per-handle node
// state so the reconciler, selection and weather registry can run without a
// GPU.
package scene

import (
	"context"
	"sync"

	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/model"
)

// Node is the renderable state behind a handle.
type Node struct {
	Kind     model.Kind
	Position model.Position
	Rotation model.Rotation
	Visible  bool
	Color    model.Color
	Scale    float64
}

// Scene stores nodes by handle. All methods are safe for concurrent use.
// Operations on unknown or destroyed handles are no-ops.
type Scene struct {
	log logging.Logger

	mu      sync.RWMutex
	nodes   map[model.Handle]*Node
	next    model.Handle
	created int
	removed int
}

// New returns an empty scene. A nil logger is replaced by logging.Noop().
func New(log logging.Logger) *Scene {
	if log == nil {
		log = logging.Noop()
	}
	return &Scene{log: log, nodes: make(map[model.Handle]*Node)}
}

// Create adds a node for an entity of kind k and returns its handle.
func (s *Scene) Create(k model.Kind, pos model.Position, rot model.Rotation, visible bool) model.Handle {
	s.mu.Lock()
	s.next++
	h := s.next
	s.nodes[h] = &Node{
		Kind:     k,
		Position: pos,
		Rotation: rot,
		Visible:  visible,
		Color:    model.DefaultColor(k),
		Scale:    model.DefaultScale(k),
	}
	s.created++
	total := s.created
	s.mu.Unlock()

	s.log.Debug(context.Background(), "scene node created",
		logging.Int("handle", int(h)),
		logging.String("kind", k.String()),
		logging.Int("created_total", total),
	)
	return h
}

// Update moves and reorients the node behind h.
func (s *Scene) Update(h model.Handle, pos model.Position, rot model.Rotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[h]; ok {
		n.Position = pos
		n.Rotation = rot
	}
}

// Destroy removes the node behind h.
func (s *Scene) Destroy(h model.Handle) {
	s.mu.Lock()
	if _, ok := s.nodes[h]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.nodes, h)
	s.removed++
	total := s.removed
	s.mu.Unlock()

	s.log.Debug(context.Background(), "scene node destroyed",
		logging.Int("handle", int(h)),
		logging.Int("destroyed_total", total),
	)
}

func (s *Scene) SetVisible(h model.Handle, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[h]; ok {
		n.Visible = visible
	}
}

func (s *Scene) SetScale(h model.Handle, scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[h]; ok {
		n.Scale = scale
	}
}

// Color returns the node colour. ok is false for unknown handles.
func (s *Scene) Color(h model.Handle) (model.Color, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok {
		return model.Color{}, false
	}
	return n.Color, true
}

func (s *Scene) SetColor(h model.Handle, c model.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[h]; ok {
		n.Color = c
	}
}

// Node returns a copy of the node behind h.
func (s *Scene) Node(h model.Handle) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[h]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Len returns the number of live nodes.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// VisibleCount returns the number of live nodes currently shown.
func (s *Scene) VisibleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, node := range s.nodes {
		if node.Visible {
			n++
		}
	}
	return n
}
