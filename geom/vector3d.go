// Package geom holds the coordinate math used to place tracked entities on
// the globe.
package geom

import (
	"fmt"
	"math"
)

// TwoPi is one full turn in radians.
const TwoPi = 2 * math.Pi

// Vector3D stores a point in both Cartesian (x, y, z) and polar
// (angleXY, angleXZ, length) form. Every setter rewrites the complementary
// representation from scratch, so both triples always describe the same
// point.
//
// The polar pairing is specific to this package: angleXY is the azimuth in
// the xy-plane and angleXZ is atan2(z, x) on the Cartesian path. The two
// conversions are inverses over the longitude/latitude ranges used for globe
// placement, not for arbitrary spherical coordinates.
type Vector3D struct {
	x, y, z float64

	angleXY  float64
	angleXZ  float64
	length   float64
	lengthXY float64
}

// FromCartesian builds a vector from its Cartesian components.
func FromCartesian(x, y, z float64) Vector3D {
	var v Vector3D
	v.SetCartesian(x, y, z)
	return v
}

// FromPolar builds a vector from two angles (radians) and a length.
func FromPolar(angleXY, angleXZ, length float64) Vector3D {
	var v Vector3D
	v.SetPolar(angleXY, angleXZ, length)
	return v
}

// NormalizeAngle wraps a into [0, 2π). Non-finite input maps to 0.
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a, TwoPi)
	if a < 0 {
		a += TwoPi
	}
	if a >= TwoPi {
		a -= TwoPi
	}
	return a
}

func (v Vector3D) X() float64        { return v.x }
func (v Vector3D) Y() float64        { return v.y }
func (v Vector3D) Z() float64        { return v.z }
func (v Vector3D) AngleXY() float64  { return v.angleXY }
func (v Vector3D) AngleXZ() float64  { return v.angleXZ }
func (v Vector3D) Length() float64   { return v.length }
func (v Vector3D) LengthXY() float64 { return v.lengthXY }

// Cartesian returns (x, y, z).
func (v Vector3D) Cartesian() (x, y, z float64) { return v.x, v.y, v.z }

// Polar returns (angleXY, angleXZ, length).
func (v Vector3D) Polar() (angleXY, angleXZ, length float64) {
	return v.angleXY, v.angleXZ, v.length
}

func (v *Vector3D) SetX(x float64) {
	v.x = x
	v.fromCartesian()
}

func (v *Vector3D) SetY(y float64) {
	v.y = y
	v.fromCartesian()
}

func (v *Vector3D) SetZ(z float64) {
	v.z = z
	v.fromCartesian()
}

// SetCartesian replaces all three Cartesian components at once.
func (v *Vector3D) SetCartesian(x, y, z float64) {
	v.x, v.y, v.z = x, y, z
	v.fromCartesian()
}

func (v *Vector3D) SetAngleXY(a float64) {
	v.angleXY = NormalizeAngle(a)
	v.fromPolar()
}

func (v *Vector3D) SetAngleXZ(a float64) {
	v.angleXZ = NormalizeAngle(a)
	v.fromPolar()
}

func (v *Vector3D) SetLength(l float64) {
	v.length = l
	v.fromPolar()
}

// SetPolar replaces both angles and the length at once.
func (v *Vector3D) SetPolar(angleXY, angleXZ, length float64) {
	v.angleXY = NormalizeAngle(angleXY)
	v.angleXZ = NormalizeAngle(angleXZ)
	v.length = length
	v.fromPolar()
}

func (v *Vector3D) fromPolar() {
	t := math.Cos(v.angleXZ) * v.length
	v.lengthXY = t
	v.z = math.Sin(v.angleXZ) * v.length
	v.x = math.Cos(v.angleXY) * t
	v.y = math.Sin(v.angleXY) * t
}

func (v *Vector3D) fromCartesian() {
	v.lengthXY = math.Sqrt(v.x*v.x + v.y*v.y)
	v.angleXY = NormalizeAngle(math.Atan2(v.y, v.x))
	v.angleXZ = NormalizeAngle(math.Atan2(v.z, v.x))
	v.length = math.Sqrt(v.x*v.x + v.y*v.y + v.z*v.z)
}

// Add returns v + o, component-wise.
func (v Vector3D) Add(o Vector3D) Vector3D {
	return FromCartesian(v.x+o.x, v.y+o.y, v.z+o.z)
}

// AddScalar adds s to every Cartesian component.
func (v Vector3D) AddScalar(s float64) Vector3D {
	return FromCartesian(v.x+s, v.y+s, v.z+s)
}

// Sub returns v - o, component-wise.
func (v Vector3D) Sub(o Vector3D) Vector3D {
	return FromCartesian(v.x-o.x, v.y-o.y, v.z-o.z)
}

// SubScalar subtracts s from every Cartesian component.
func (v Vector3D) SubScalar(s float64) Vector3D {
	return FromCartesian(v.x-s, v.y-s, v.z-s)
}

// Scale multiplies every Cartesian component by s.
func (v Vector3D) Scale(s float64) Vector3D {
	return FromCartesian(v.x*s, v.y*s, v.z*s)
}

// Div divides every Cartesian component by s.
func (v Vector3D) Div(s float64) Vector3D {
	return FromCartesian(v.x/s, v.y/s, v.z/s)
}

// Compose turns v by o's direction: angles add and lengths multiply. It is
// neither a dot nor a cross product.
func (v Vector3D) Compose(o Vector3D) Vector3D {
	return FromPolar(v.angleXY+o.angleXY, v.angleXZ+o.angleXZ, v.length*o.length)
}

// Neg returns the vector pointing the opposite way.
func (v Vector3D) Neg() Vector3D {
	return FromCartesian(-v.x, -v.y, -v.z)
}

// Dot returns the Cartesian dot product.
func (v Vector3D) Dot(o Vector3D) float64 {
	return v.x*o.x + v.y*o.y + v.z*o.z
}

// DistanceTo returns the straight-line distance between two points.
func (v Vector3D) DistanceTo(o Vector3D) float64 {
	return v.Sub(o).Length()
}

func (v Vector3D) String() string {
	return fmt.Sprintf("Vector3D{x:%g y:%g z:%g angle_xy:%g angle_xz:%g length:%g}",
		v.x, v.y, v.z, v.angleXY, v.angleXZ, v.length)
}
