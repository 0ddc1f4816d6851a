// Package kb holds the tracked-entity knowledge base: the keyed set of
// entities the reconciler maintains and the render layer reads.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrEntityExists is returned when adding a key that is already tracked.
	ErrEntityExists = errors.New("entity already exists")
	// ErrEntityNotFound is returned when touching a key that is not tracked.
	ErrEntityNotFound = errors.New("entity not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventEntityCreated EventType = iota
	EventEntityUpdated
	EventEntityRemoved
)

func (t EventType) String() string {
	switch t {
	case EventEntityCreated:
		return "created"
	case EventEntityUpdated:
		return "updated"
	case EventEntityRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when the tracked set changes.
type Event struct {
	Type   EventType
	Entity *TrackedEntity
}

// KnowledgeBase is an in-memory, thread-safe store of tracked entities keyed
// by their external identity.
type KnowledgeBase struct {
	mu sync.RWMutex

	entities map[string]*TrackedEntity

	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		entities: make(map[string]*TrackedEntity),
		subs:     make(map[uint64]func(Event)),
	}
}

// Tx is a write view of the knowledge base valid only inside Batch.
type Tx struct {
	kb     *KnowledgeBase
	events []Event
}

// Get returns the tracked entity for key, or nil.
func (tx *Tx) Get(key string) *TrackedEntity {
	return tx.kb.entities[key]
}

// Add inserts e. It fails with ErrEntityExists if the key is taken.
func (tx *Tx) Add(e *TrackedEntity) error {
	if _, exists := tx.kb.entities[e.Key]; exists {
		return fmt.Errorf("add %q: %w", e.Key, ErrEntityExists)
	}
	tx.kb.entities[e.Key] = e
	tx.events = append(tx.events, Event{Type: EventEntityCreated, Entity: e})
	return nil
}

// Touch records that e was updated in place.
func (tx *Tx) Touch(e *TrackedEntity) {
	tx.events = append(tx.events, Event{Type: EventEntityUpdated, Entity: e})
}

// Remove drops key and returns the entity that was tracked under it, or nil.
func (tx *Tx) Remove(key string) *TrackedEntity {
	e, ok := tx.kb.entities[key]
	if !ok {
		return nil
	}
	delete(tx.kb.entities, key)
	tx.events = append(tx.events, Event{Type: EventEntityRemoved, Entity: e})
	return e
}

// Keys returns an owned copy of the tracked keys.
func (tx *Tx) Keys() []string {
	return tx.kb.keysLocked()
}

// Batch runs fn under the write lock. Events raised by fn are delivered to
// subscribers after the lock is released, even when fn returns an error.
func (kb *KnowledgeBase) Batch(fn func(tx *Tx) error) error {
	kb.mu.Lock()
	tx := &Tx{kb: kb}
	err := fn(tx)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, ev := range tx.events {
		for _, sub := range subs {
			sub(ev)
		}
	}
	return err
}

// Add inserts a new entity. It returns ErrEntityExists if the key is taken.
func (kb *KnowledgeBase) Add(e *TrackedEntity) error {
	return kb.Batch(func(tx *Tx) error { return tx.Add(e) })
}

// Update notifies subscribers that the entity tracked under key changed.
func (kb *KnowledgeBase) Update(key string) error {
	return kb.Batch(func(tx *Tx) error {
		e := tx.Get(key)
		if e == nil {
			return fmt.Errorf("update %q: %w", key, ErrEntityNotFound)
		}
		tx.Touch(e)
		return nil
	})
}

// Remove drops key and returns the removed entity, or nil when the key was
// not tracked.
func (kb *KnowledgeBase) Remove(key string) *TrackedEntity {
	var removed *TrackedEntity
	_ = kb.Batch(func(tx *Tx) error {
		removed = tx.Remove(key)
		return nil
	})
	return removed
}

// Get returns the entity tracked under key, or nil.
func (kb *KnowledgeBase) Get(key string) *TrackedEntity {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.entities[key]
}

// Lookup is Get with an explicit presence flag.
func (kb *KnowledgeBase) Lookup(key string) (*TrackedEntity, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	e, ok := kb.entities[key]
	return e, ok
}

// Keys returns an owned, sorted copy of the tracked keys.
func (kb *KnowledgeBase) Keys() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.keysLocked()
}

func (kb *KnowledgeBase) keysLocked() []string {
	keys := make([]string, 0, len(kb.entities))
	for k := range kb.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns a snapshot slice of all entities ordered by key.
func (kb *KnowledgeBase) List() []*TrackedEntity {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*TrackedEntity, 0, len(kb.entities))
	for _, k := range kb.keysLocked() {
		res = append(res, kb.entities[k])
	}
	return res
}

// Len returns the number of tracked entities.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.entities)
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	if len(kb.subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function that is safe to call more than once.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nextSub++
	id := kb.nextSub
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}
