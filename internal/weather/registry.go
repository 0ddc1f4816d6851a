// Package weather keeps an explicitly constructed set of weather markers on
// the globe and colours them by temperature or wind.
package weather

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/globe-tracker/geom"
	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/internal/selection"
	"github.com/signalsfoundry/globe-tracker/model"
)

// Mode selects which dataset the markers display.
type Mode int

const (
	ModeTemperature Mode = iota
	ModeWind
)

func (m Mode) String() string {
	if m == ModeWind {
		return "wind"
	}
	return "temperature"
}

const (
	temperatureScale = 0.05
	windScale        = 0.088

	defaultRefreshLimit = 4
)

// Scene is the subset of the render collaborator the registry drives.
type Scene interface {
	Create(kind model.Kind, pos model.Position, rot model.Rotation, visible bool) model.Handle
	Update(h model.Handle, pos model.Position, rot model.Rotation)
	SetVisible(h model.Handle, visible bool)
	SetScale(h model.Handle, scale float64)
	Color(h model.Handle) (model.Color, bool)
	SetColor(h model.Handle, c model.Color)
}

// Fetcher returns current conditions at a coordinate.
type Fetcher interface {
	Current(ctx context.Context, lat, lon float64) (Station, error)
}

// Point is a weather marker. It is selectable and describable.
type Point struct {
	scene  Scene
	handle model.Handle
	sel    *selection.Selection

	mu      sync.Mutex
	station Station
}

func newPoint(sc Scene, sel *selection.Selection, st Station) *Point {
	pos, rot := geom.SurfacePoint(st.Location.Lon, st.Location.Lat, st.Current.WindDegree)
	return &Point{
		scene:   sc,
		handle:  sc.Create(model.KindWeather, pos, rot, true),
		sel:     sel,
		station: st,
	}
}

// Station returns the last known conditions.
func (p *Point) Station() Station {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.station
}

func (p *Point) Handle() model.Handle { return p.handle }

func (p *Point) VisualState() model.Color {
	c, _ := p.scene.Color(p.handle)
	return c
}

func (p *Point) SetVisualState(c model.Color) { p.scene.SetColor(p.handle, c) }

func (p *Point) HighlightState() model.Color { return model.HighlightColor(model.KindWeather) }

// Describe renders a short summary for info panels.
func (p *Point) Describe(context.Context) string {
	st := p.Station()
	name := st.Location.Name
	if st.Location.Country != "" {
		name = fmt.Sprintf("%s, %s", name, st.Location.Country)
	}
	return fmt.Sprintf("%s\n%.1f°C  %s\nwind %.0f km/h from %.0f°",
		name, st.Current.TempC, st.Current.Condition.Text, st.Current.WindKph, st.Current.WindDegree)
}

// show applies mode's scale and colour. Wind mode reads the temperature, as
// the marker colour has always done. A selected point keeps its highlight
// and the new colour is restored on deselection.
func (p *Point) show(mode Mode) {
	temp := p.Station().Current.TempC
	scale, c := temperatureScale, TemperatureRamp.Color(temp)
	if mode == ModeWind {
		scale, c = windScale, WindRamp.Color(temp)
	}
	p.scene.SetScale(p.handle, scale)
	if p.sel != nil {
		p.sel.Restyle(p, c)
		return
	}
	p.scene.SetColor(p.handle, c)
}

func (p *Point) setStation(st Station) {
	p.mu.Lock()
	p.station = st
	p.mu.Unlock()
	pos, rot := geom.SurfacePoint(st.Location.Lon, st.Location.Lat, st.Current.WindDegree)
	p.scene.Update(p.handle, pos, rot)
}

// Registry owns the weather markers. It is not a reconciler: points are only
// added explicitly and never removed by a feed.
type Registry struct {
	scene Scene
	log   logging.Logger
	sel   *selection.Selection

	mu     sync.Mutex
	points []*Point
	hidden bool
	mode   Mode
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSelection makes restyling respect highlights held by sel.
func WithSelection(sel *selection.Selection) RegistryOption {
	return func(r *Registry) { r.sel = sel }
}

// NewRegistry returns an empty registry in temperature mode.
func NewRegistry(sc Scene, log logging.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logging.Noop()
	}
	r := &Registry{scene: sc, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add creates a marker for st styled for the current mode and appends it.
func (r *Registry) Add(st Station) *Point {
	p := newPoint(r.scene, r.sel, st)
	p.show(r.Mode())
	r.Append(p)
	return p
}

// Append registers p, hiding it if the registry is hidden.
func (r *Registry) Append(p *Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	hidden := r.hidden
	r.mu.Unlock()
	if hidden {
		r.scene.SetVisible(p.handle, false)
	}
}

// Points returns a copy of the registered points.
func (r *Registry) Points() []*Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Point, len(r.points))
	copy(out, r.points)
	return out
}

func (r *Registry) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Registry) Hidden() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hidden
}

// ShowTemperature shows every point coloured by temperature.
func (r *Registry) ShowTemperature() { r.showAll(ModeTemperature) }

// ShowWind shows every point in wind mode.
func (r *Registry) ShowWind() { r.showAll(ModeWind) }

func (r *Registry) showAll(mode Mode) {
	r.mu.Lock()
	r.hidden = false
	r.mode = mode
	points := append([]*Point(nil), r.points...)
	r.mu.Unlock()

	for _, p := range points {
		r.scene.SetVisible(p.handle, true)
		p.show(mode)
	}
}

// Hide hides every point, including ones appended later.
func (r *Registry) Hide() {
	r.mu.Lock()
	r.hidden = true
	points := append([]*Point(nil), r.points...)
	r.mu.Unlock()

	for _, p := range points {
		r.scene.SetVisible(p.handle, false)
	}
}

// Refresh re-fetches conditions for every point with bounded concurrency.
// Points whose fetch fails keep their previous data; the first error is
// returned after all fetches finish.
func (r *Registry) Refresh(ctx context.Context, f Fetcher) error {
	points := r.Points()
	mode := r.Mode()

	var g errgroup.Group
	g.SetLimit(defaultRefreshLimit)
	for _, p := range points {
		g.Go(func() error {
			old := p.Station()
			st, err := f.Current(ctx, old.Location.Lat, old.Location.Lon)
			if err != nil {
				r.log.Warn(ctx, "weather refresh failed",
					logging.String("station", old.Location.Name), logging.Err(err))
				return fmt.Errorf("refresh %s: %w", old.Location.Name, err)
			}
			p.setStation(st)
			p.show(mode)
			return nil
		})
	}
	err := g.Wait()
	r.log.Debug(ctx, "weather refreshed", logging.Int("points", len(points)))
	return err
}
