package geom

import (
	"math"

	"github.com/signalsfoundry/globe-tracker/model"
)

const (
	// BaseLength is the globe radius in scene units.
	BaseLength = 5.0
	// MeanRadiusFeet is the mean Earth radius in feet.
	MeanRadiusFeet = 20902230.97
	// SurfaceLength is where ground-level markers (weather points) sit.
	SurfaceLength = BaseLength + 0.01
)

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// AltitudeToLength scales an altitude in feet onto the globe so that sea
// level sits at BaseLength.
func AltitudeToLength(feet float64) float64 {
	return ((feet + MeanRadiusFeet) / MeanRadiusFeet) * BaseLength
}

// Place maps longitude/latitude (degrees) onto the two polar angles and the
// altitude onto the length.
func Place(lon, lat, altFeet float64) Vector3D {
	return FromPolar(Radians(lon), Radians(lat), AltitudeToLength(altFeet))
}

// ScenePosition converts a vector into the scene's y-up frame by swapping
// the y and z axes.
func ScenePosition(v Vector3D) model.Position {
	return model.Position{X: v.X(), Y: v.Z(), Z: v.Y()}
}

// Orient returns the scene rotation for an entity at lon/lat facing heading.
func Orient(lon, lat, heading float64) model.Rotation {
	return model.Rotation{X: lat, Y: -90 - lon, Z: heading}
}

// Locate returns the scene position and rotation for a snapshot record.
func Locate(r model.Record) (model.Position, model.Rotation) {
	pos := ScenePosition(Place(r.Longitude, r.Latitude, r.Altitude))
	return pos, Orient(r.Longitude, r.Latitude, r.Heading)
}

// SurfacePoint places a marker just above the globe surface, rotated so its
// arrow points downwind.
func SurfacePoint(lon, lat, windDegree float64) (model.Position, model.Rotation) {
	v := FromPolar(Radians(lon), Radians(lat), SurfaceLength)
	return ScenePosition(v), Orient(lon, lat, windDegree+180)
}
