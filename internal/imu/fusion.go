package imu

import "math"

// MaxAccelForAngle bounds |acc.X| and |acc.Y| (in g) for the accelerometer to
// be trusted as a tilt reference. It is roughly cos(10°).
const MaxAccelForAngle = 0.9848

// Fusion holds the correction to add to the next gyro sample. It pulls the
// integrated attitude toward the tilt implied by the accelerometer.
type Fusion struct {
	correction Vector
}

func (f *Fusion) Clear() { f.correction = Vector{} }

func (f *Fusion) Correction() Vector { return f.correction }

// Apply returns gyro with the pending correction added.
func (f *Fusion) Apply(gyro Vector) Vector { return Add(gyro, f.correction) }

// Compute replaces the pending correction.
//
// ori is the current attitude (roll, pitch, yaw). acc is the accelerometer in
// g. heading is an independent yaw reference; when headingValid is false the
// yaw component of the correction is always zero. freq is the tick rate in Hz.
//
// When the accelerometer is invalid or tilted past MaxAccelForAngle the
// correction stays zero for this tick.
func (f *Fusion) Compute(ori Vector, accValid bool, acc Vector, headingValid bool, heading float64, freq float64) {
	f.Clear()

	if !accValid || freq <= 0 {
		return
	}
	if acc.X < -MaxAccelForAngle || acc.X > MaxAccelForAngle ||
		acc.Y < -MaxAccelForAngle || acc.Y > MaxAccelForAngle {
		return
	}
	if !headingValid {
		heading = 0
	}

	var implied Vector
	if acc.Z >= 0 {
		implied = Vector{
			X: math.Asin(acc.Y),
			Y: -math.Asin(acc.X),
			Z: heading,
		}
		f.correction = NormalizeAngles(Sub(implied, ori))
	} else {
		implied = NormalizeAngles(Vector{
			X: math.Pi - math.Asin(acc.Y),
			Y: -math.Asin(acc.X),
			Z: math.Pi + heading,
		})
		f.correction = NormalizeAngles(Sub(implied, ori))
		// Pitch turns the other way once the device is upside down.
		f.correction.Y = -f.correction.Y
	}
	if !headingValid {
		f.correction.Z = 0
	}
	f.correction = Scale(f.correction, 0.5/freq)
}
