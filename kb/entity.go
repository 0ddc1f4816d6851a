package kb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/signalsfoundry/globe-tracker/model"
)

// Directory resolves auxiliary metadata for entities. A definite miss is
// reported as model.ErrUnknownCode; any other error is treated as transient
// and the lookup is retried on the next call.
type Directory interface {
	Airline(ctx context.Context, icao string) (model.Airline, error)
	Airport(ctx context.Context, iata string) (model.Airport, error)
}

// Painter reads and writes the colour of a rendered entity.
type Painter interface {
	Color(h model.Handle) (model.Color, bool)
	SetColor(h model.Handle, c model.Color)
}

// TrackedEntity is the local counterpart of one externally identified entity.
// The knowledge base owns it; readers outside the reconciler should treat a
// pointer as transient and re-check membership with KnowledgeBase.Get.
type TrackedEntity struct {
	Key  string
	Kind model.Kind
	Caps model.Capabilities

	mu      sync.RWMutex
	record  model.Record
	pos     model.Position
	rot     model.Rotation
	handle  model.Handle
	color   model.Color
	painter Painter
	dir     Directory

	metaMu      sync.Mutex
	airline     resolved[model.Airline]
	origin      resolved[model.Airport]
	destination resolved[model.Airport]
}

type resolved[T any] struct {
	value T
	done  bool
}

// EntityOption configures a TrackedEntity at construction.
type EntityOption func(*TrackedEntity)

// WithPainter routes visual-state reads and writes through p.
func WithPainter(p Painter) EntityOption {
	return func(e *TrackedEntity) { e.painter = p }
}

// WithDirectory sets the metadata directory used by Airline, Origin and
// Destination.
func WithDirectory(d Directory) EntityOption {
	return func(e *TrackedEntity) { e.dir = d }
}

// NewTrackedEntity builds an entity for rec rendered at pos/rot through h.
// The kind and capability set are fixed here.
func NewTrackedEntity(rec model.Record, pos model.Position, rot model.Rotation, h model.Handle, opts ...EntityOption) *TrackedEntity {
	e := &TrackedEntity{
		Key:    rec.Key,
		Kind:   rec.Kind,
		Caps:   model.CapabilitiesFor(rec.Kind),
		record: rec,
		pos:    pos,
		rot:    rot,
		handle: h,
		color:  model.DefaultColor(rec.Kind),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetState overwrites the record and the derived placement in place. The
// handle is kept.
func (e *TrackedEntity) SetState(rec model.Record, pos model.Position, rot model.Rotation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record = rec
	e.pos = pos
	e.rot = rot
}

func (e *TrackedEntity) Record() model.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record
}

func (e *TrackedEntity) Position() model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pos
}

func (e *TrackedEntity) Rotation() model.Rotation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rot
}

func (e *TrackedEntity) Handle() model.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle
}

// VisualState returns the entity's current colour.
func (e *TrackedEntity) VisualState() model.Color {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.painter != nil {
		if c, ok := e.painter.Color(e.handle); ok {
			return c
		}
	}
	return e.color
}

// SetVisualState recolours the entity.
func (e *TrackedEntity) SetVisualState(c model.Color) {
	e.mu.Lock()
	e.color = c
	p, h := e.painter, e.handle
	e.mu.Unlock()
	if p != nil {
		p.SetColor(h, c)
	}
}

// HighlightState is the colour the entity shows while selected.
func (e *TrackedEntity) HighlightState() model.Color {
	return model.HighlightColor(e.Kind)
}

// Airline resolves the operator. An answer from the directory, found or not,
// is kept for the life of the entity; a transient failure yields the raw ICAO
// code and is retried on the next call.
func (e *TrackedEntity) Airline(ctx context.Context) model.Airline {
	code := e.Record().AirlineICAO
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	if e.airline.done {
		return e.airline.value
	}
	fallback := model.Airline{ICAO: code}
	if e.dir == nil || code == "" {
		e.airline = resolved[model.Airline]{value: fallback, done: true}
		return fallback
	}
	a, err := e.dir.Airline(ctx, code)
	switch {
	case err == nil:
		a.Found = true
		e.airline = resolved[model.Airline]{value: a, done: true}
	case errors.Is(err, model.ErrUnknownCode):
		e.airline = resolved[model.Airline]{value: fallback, done: true}
	default:
		return fallback
	}
	return e.airline.value
}

// Origin resolves the departure airport.
func (e *TrackedEntity) Origin(ctx context.Context) model.Airport {
	code := e.Record().OriginIATA
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return e.resolveAirport(ctx, &e.origin, code)
}

// Destination resolves the arrival airport.
func (e *TrackedEntity) Destination(ctx context.Context) model.Airport {
	code := e.Record().DestinationIATA
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return e.resolveAirport(ctx, &e.destination, code)
}

// resolveAirport must be called with metaMu held.
func (e *TrackedEntity) resolveAirport(ctx context.Context, slot *resolved[model.Airport], code string) model.Airport {
	if slot.done {
		return slot.value
	}
	fallback := model.Airport{IATA: code}
	if e.dir == nil || code == "" {
		*slot = resolved[model.Airport]{value: fallback, done: true}
		return fallback
	}
	a, err := e.dir.Airport(ctx, code)
	switch {
	case err == nil:
		a.Found = true
		if a.IATA == "" {
			a.IATA = code
		}
		*slot = resolved[model.Airport]{value: a, done: true}
	case errors.Is(err, model.ErrUnknownCode):
		*slot = resolved[model.Airport]{value: fallback, done: true}
	default:
		return fallback
	}
	return slot.value
}

// Describe renders a short multi-line summary for info panels.
func (e *TrackedEntity) Describe(ctx context.Context) string {
	rec := e.Record()
	var b strings.Builder
	switch e.Kind {
	case model.KindAircraft:
		fmt.Fprintf(&b, "%s (%s)\n", rec.Callsign, e.Airline(ctx).DisplayName())
		fmt.Fprintf(&b, "%s -> %s\n", e.Origin(ctx).DisplayName(), e.Destination(ctx).DisplayName())
		fmt.Fprintf(&b, "alt %.0f ft  hdg %.0f", rec.Altitude, rec.Heading)
		if rec.EmergencySquawk() {
			fmt.Fprintf(&b, "  SQUAWK %s", rec.Squawk)
		}
	default:
		name := rec.Callsign
		if name == "" {
			name = rec.Key
		}
		fmt.Fprintf(&b, "%s [%s]\n", name, e.Kind)
		fmt.Fprintf(&b, "lat %.3f  lon %.3f  alt %.0f ft", rec.Latitude, rec.Longitude, rec.Altitude)
	}
	return b.String()
}
