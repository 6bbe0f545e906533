// Package imu holds the orientation math of the tag: 3-vectors, the direction
// cosine matrix integrator and the accelerometer fusion correction.
//
// All angles are radians, normally in [-π, π).
package imu

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	DegToRad = math.Pi / 180.0
	RadToDeg = 180.0 / math.Pi
)

// Vector is a 3-vector; X, Y, Z map to roll, pitch, yaw when it carries angles.
type Vector = r3.Vec

func Zero() Vector { return Vector{} }

func Add(a, b Vector) Vector { return r3.Add(a, b) }

func Sub(a, b Vector) Vector { return r3.Sub(a, b) }

// Scale returns v multiplied by f. Scale in place with v = Scale(v, f).
func Scale(v Vector, f float64) Vector { return r3.Scale(f, v) }

func Dot(a, b Vector) float64 { return r3.Dot(a, b) }

func Cross(a, b Vector) Vector { return r3.Cross(a, b) }

// NormalizeAngle wraps a into [-π, π).
//
// Values already in range are returned untouched, so the function is
// idempotent. NaN and ±Inf are returned unchanged.
func NormalizeAngle(a float64) float64 {
	if a >= -math.Pi && a < math.Pi {
		return a
	}
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	const twoPi = 2 * math.Pi
	// One or two steps cover the common case of a sum or difference of two
	// normalized angles; anything further out goes through Mod.
	if a >= math.Pi && a < 3*math.Pi {
		a -= twoPi
	} else if a < -math.Pi && a >= -3*math.Pi {
		a += twoPi
	} else {
		a = math.Mod(a+math.Pi, twoPi)
		if a < 0 {
			a += twoPi
		}
		a -= math.Pi
	}
	// Rounding can land exactly on an edge.
	if a >= math.Pi {
		a = -math.Pi
	}
	if a < -math.Pi {
		a = -math.Pi
	}
	return a
}

// NormalizeAngles applies NormalizeAngle to each component.
func NormalizeAngles(v Vector) Vector {
	return Vector{X: NormalizeAngle(v.X), Y: NormalizeAngle(v.Y), Z: NormalizeAngle(v.Z)}
}
