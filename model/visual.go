package model

// Handle is an opaque reference to a renderable owned by the scene.
type Handle uint64

// Position is a scene-space point.
type Position struct {
	X float64
	Y float64
	Z float64
}

// Rotation holds Euler angles in degrees, applied in scene space.
type Rotation struct {
	X float64
	Y float64
	Z float64
}

// Color is an RGBA colour with channels in [0, 1].
type Color struct {
	R, G, B, A float64
}

var (
	AircraftColor     = Color{R: 0.9, G: 0.9, B: 0.9, A: 1}
	AircraftHighlight = Color{R: 0, G: 1, B: 0.1, A: 1}
	SatelliteColor    = Color{R: 1, G: 0.8, B: 0.2, A: 1}
	WeatherHighlight  = Color{R: 1, G: 1, B: 1, A: 1}
)

// DefaultColor is the colour a freshly created entity of kind k gets.
func DefaultColor(k Kind) Color {
	switch k {
	case KindSatellite:
		return SatelliteColor
	case KindWeather:
		return WeatherHighlight
	default:
		return AircraftColor
	}
}

// HighlightColor is the colour a selected entity of kind k shows.
func HighlightColor(k Kind) Color {
	if k == KindWeather {
		return WeatherHighlight
	}
	return AircraftHighlight
}

// DefaultScale is the scene scale for a freshly created entity of kind k.
func DefaultScale(k Kind) float64 {
	switch k {
	case KindSatellite:
		return 0.08
	default:
		return 0.05
	}
}
