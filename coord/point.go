package coord

import (
	"math"
)

// Point is a Cartesian position in metres, sensor at the origin.
type Point struct{ X, Y, Z float64 }

// FromSpherical converts a range r along horizontal angle theta and
// vertical angle phi (both radians) into a Point.
func FromSpherical(r, theta, phi float64) Point {
	return Point{
		X: r * math.Cos(phi) * math.Cos(theta),
		Y: r * math.Cos(phi) * math.Sin(theta),
		Z: r * math.Sin(phi),
	}
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Norm returns the distance from the origin.
func (p Point) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// IsFinite is false if any component is NaN or infinite.
func (p Point) IsFinite() bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
