package weather

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/signalsfoundry/globe-tracker/internal/scene"
	"github.com/signalsfoundry/globe-tracker/internal/selection"
	"github.com/signalsfoundry/globe-tracker/model"
)

func station(name string, lat, lon, temp float64) Station {
	return Station{
		Location: Location{Name: name, Country: "Testland", Lat: lat, Lon: lon},
		Current:  Current{TempC: temp, WindKph: 12, WindDegree: 90, Condition: Condition{Text: "Sunny"}},
	}
}

func TestRegistryModesAndHide(t *testing.T) {
	sc := scene.New(nil)
	reg := NewRegistry(sc, nil)

	p := reg.Add(station("Mild", 10, 20, 10))
	node, ok := sc.Node(p.Handle())
	if !ok || node.Kind != model.KindWeather || !node.Visible {
		t.Fatalf("node = %+v, %v", node, ok)
	}
	if node.Scale != temperatureScale || !near(node.Color, model.Color{G: 1, A: 1}) {
		t.Fatalf("temperature styling = %+v", node)
	}
	if node.Rotation.Z != 270 || node.Rotation.X != 10 || node.Rotation.Y != -110 {
		t.Fatalf("rotation = %+v", node.Rotation)
	}

	reg.ShowWind()
	if reg.Mode() != ModeWind {
		t.Fatalf("mode = %v, want wind", reg.Mode())
	}
	node, _ = sc.Node(p.Handle())
	if node.Scale != windScale || !near(node.Color, WindRamp.Color(10)) {
		t.Fatalf("wind styling = %+v", node)
	}

	reg.Hide()
	if sc.VisibleCount() != 0 || !reg.Hidden() {
		t.Fatalf("points still visible after Hide")
	}
	late := reg.Add(station("Late", 0, 0, 30))
	if n, _ := sc.Node(late.Handle()); n.Visible {
		t.Fatalf("point appended while hidden is visible")
	}
	if n, _ := sc.Node(late.Handle()); n.Scale != windScale {
		t.Fatalf("late point not styled for current mode: %+v", n)
	}

	reg.ShowTemperature()
	if sc.VisibleCount() != 2 || reg.Hidden() || reg.Mode() != ModeTemperature {
		t.Fatalf("ShowTemperature did not reveal every point")
	}
}

func TestRegistryPointsReturnsCopy(t *testing.T) {
	reg := NewRegistry(scene.New(nil), nil)
	reg.Add(station("A", 0, 0, 0))
	pts := reg.Points()
	pts[0] = nil
	if reg.Points()[0] == nil {
		t.Fatalf("Points exposed internal slice")
	}
}

func TestPointIsSelectable(t *testing.T) {
	sc := scene.New(nil)
	reg := NewRegistry(sc, nil)
	p := reg.Add(station("Cold", 60, 10, -60))
	before, _ := sc.Color(p.Handle())

	sel := selection.New()
	sel.Set(p)
	if got, _ := sc.Color(p.Handle()); got != model.WeatherHighlight {
		t.Fatalf("selected colour = %+v", got)
	}
	sel.Clear()
	if got, _ := sc.Color(p.Handle()); got != before {
		t.Fatalf("colour not restored: %+v, want %+v", got, before)
	}

	desc := p.Describe(context.Background())
	if !strings.Contains(desc, "Cold, Testland") || !strings.Contains(desc, "-60.0°C") {
		t.Fatalf("Describe = %q", desc)
	}
}

func TestRefreshKeepsHighlightOfSelectedPoint(t *testing.T) {
	sc := scene.New(nil)
	sel := selection.New()
	reg := NewRegistry(sc, nil, WithSelection(sel))
	p := reg.Add(station("Cold", 10, 10, -60))
	other := reg.Add(station("Other", 20, 20, -60))

	sel.Set(p)
	if err := reg.Refresh(context.Background(), &fakeFetcher{temp: 40}); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if got, _ := sc.Color(p.Handle()); got != model.WeatherHighlight {
		t.Fatalf("selected point repainted by refresh: %+v", got)
	}
	if got, _ := sc.Color(other.Handle()); !near(got, model.Color{R: 1, A: 1}) {
		t.Fatalf("unselected point colour = %+v", got)
	}

	sel.Clear()
	if got, _ := sc.Color(p.Handle()); !near(got, model.Color{R: 1, A: 1}) {
		t.Fatalf("restored colour = %+v, want refreshed temperature colour", got)
	}
}

type fakeFetcher struct {
	calls atomic.Int32
	temp  float64
	fail  string
}

func (f *fakeFetcher) Current(_ context.Context, lat, lon float64) (Station, error) {
	f.calls.Add(1)
	if lat == 99 {
		return Station{}, errors.New(f.fail)
	}
	st := station("Fresh", lat, lon, f.temp)
	st.Current.WindDegree = 0
	return st, nil
}

func TestRefreshUpdatesPointsAndKeepsFailures(t *testing.T) {
	sc := scene.New(nil)
	reg := NewRegistry(sc, nil)
	for i := range 6 {
		reg.Add(station("S", float64(i), float64(i), 10))
	}
	broken := reg.Add(station("Broken", 99, 0, 10))

	f := &fakeFetcher{temp: 40, fail: "upstream down"}
	err := reg.Refresh(context.Background(), f)
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("Refresh error = %v, want upstream down", err)
	}
	if got := f.calls.Load(); got != 7 {
		t.Fatalf("fetch calls = %d, want 7", got)
	}

	for _, p := range reg.Points() {
		node, _ := sc.Node(p.Handle())
		if p == broken {
			if p.Station().Current.TempC != 10 || !near(node.Color, model.Color{G: 1, A: 1}) {
				t.Fatalf("failed point changed: %+v", node)
			}
			continue
		}
		if p.Station().Current.TempC != 40 || !near(node.Color, model.Color{R: 1, A: 1}) {
			t.Fatalf("refreshed point not restyled: %+v", node)
		}
		if node.Rotation.Z != 180 {
			t.Fatalf("refreshed point not re-oriented: %+v", node.Rotation)
		}
	}
}

func TestLoadStations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	body := `[{"location":{"name":"Berlin","country":"Germany","lat":52.52,"lon":13.4},
		"current":{"temp_c":18.5,"wind_kph":9.4,"wind_degree":250,"condition":{"text":"Partly cloudy"}}}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stations, err := LoadStations(path)
	if err != nil {
		t.Fatalf("LoadStations error: %v", err)
	}
	if len(stations) != 1 || stations[0].Location.Name != "Berlin" || stations[0].Current.WindDegree != 250 {
		t.Fatalf("stations = %+v", stations)
	}

	if _, err := LoadStations(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
