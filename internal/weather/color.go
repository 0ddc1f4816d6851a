package weather

import (
	"math"

	"github.com/signalsfoundry/globe-tracker/model"
)

// Colour ramps for the two display modes.
var (
	TemperatureRamp = Ramp{
		Min: -60, Max: 40, Optimal: 10,
		MinColor:     model.Color{B: 1, A: 1},
		OptimalColor: model.Color{G: 1, A: 1},
		MaxColor:     model.Color{R: 1, A: 1},
	}
	WindRamp = Ramp{
		Min: 0, Max: 100, Optimal: 50,
		MinColor:     model.Color{B: 1, A: 1},
		OptimalColor: model.Color{R: 1, B: 1, A: 1},
		MaxColor:     model.Color{R: 1, A: 1},
	}
)

// Ramp maps a value onto a blend of three colours anchored at Min, Optimal
// and Max.
type Ramp struct {
	Min, Max, Optimal                float64
	MinColor, OptimalColor, MaxColor model.Color
}

// Color returns the blended colour for v.
func (r Ramp) Color(v float64) model.Color {
	return ThreeColor(r.Min, r.Max, r.Optimal, v, r.MinColor, r.OptimalColor, r.MaxColor)
}

// FloatMap linearly maps x from [inMin, inMax] onto [outMin, outMax]. It does
// not clamp.
func FloatMap(x, inMin, inMax, outMin, outMax float64) float64 {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// ThreeColor blends minCol, optCol and maxCol by how far value sits from
// optimal. Weights and the resulting channels are clamped to [0, 1]; alpha
// is always 1.
func ThreeColor(min, max, optimal, value float64, minCol, optCol, maxCol model.Color) model.Color {
	optW := clamp01(FloatMap(math.Abs(value-optimal), 0, max-optimal, 1, 0))

	var maxW float64
	switch {
	case value < optimal:
		maxW = 0
	case value > max:
		maxW = 1
	default:
		maxW = FloatMap(value, optimal, max, 0, 1)
	}

	var minW float64
	switch {
	case value > optimal:
		minW = 0
	case value < min:
		minW = 1
	default:
		minW = FloatMap(value, min, optimal, 1, 0)
	}

	return model.Color{
		R: clamp01(minCol.R*minW + optCol.R*optW + maxCol.R*maxW),
		G: clamp01(minCol.G*minW + optCol.G*optW + maxCol.G*maxW),
		B: clamp01(minCol.B*minW + optCol.B*optW + maxCol.B*maxW),
		A: 1,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
