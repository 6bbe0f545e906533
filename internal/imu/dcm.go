package imu

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DCM is the direction cosine matrix relating the fixed frame to the device
// frame. Row i is device axis i expressed in the fixed frame.
//
// Rotate is a first-order Euler step; Normalize must follow every Rotate or
// the rows drift away from orthonormal.
type DCM struct {
	m *r3.Mat
}

func NewDCM() *DCM {
	d := &DCM{m: r3.NewMat(make([]float64, 9))}
	d.Reset()
	return d
}

// Reset sets the matrix to identity.
func (d *DCM) Reset() {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := 0.0
			if i == j {
				v = 1
			}
			d.m.Set(i, j, v)
		}
	}
}

// ResetYaw re-zeros heading only. The Z row (roll/pitch) is kept and the X
// and Y rows are rebuilt around a fixed forward axis. It is a no-op when the
// Z row is aligned with that axis (pitch at ±90°).
func (d *DCM) ResetYaw() {
	z := d.Row(2)
	x := Vector{X: 1}
	y := Scale(Cross(x, z), -1)
	if r3.Norm(y) < 1e-9 {
		return
	}
	y = r3.Unit(y)
	x = r3.Unit(Cross(y, z))
	d.setRow(0, x)
	d.setRow(1, y)
}

// Rotate advances the matrix by the small angle delta (radians travelled this
// tick, in the rotating frame): M += M·[delta]x.
func (d *DCM) Rotate(delta Vector) {
	step := r3.NewMat(make([]float64, 9))
	step.Mul(d.m, r3.Skew(delta))
	d.m.Add(d.m, step)
}

// Normalize restores near-orthonormality. The magnitude correction
// ½(3-|r|²) is only valid for rows already close to unit length.
func (d *DCM) Normalize() {
	r0, r1 := d.Row(0), d.Row(1)
	e := -0.5 * Dot(r0, r1)

	t0 := Add(r0, Scale(r1, e))
	t1 := Add(r1, Scale(r0, e))
	t2 := Cross(t0, t1)

	d.setRow(0, Scale(t0, 0.5*(3-Dot(t0, t0))))
	d.setRow(1, Scale(t1, 0.5*(3-Dot(t1, t1))))
	d.setRow(2, Scale(t2, 0.5*(3-Dot(t2, t2))))
}

// Angles returns roll, pitch and yaw in radians as X, Y, Z.
func (d *DCM) Angles() Vector {
	return Vector{
		X: math.Atan2(d.m.At(2, 1), d.m.At(2, 2)),
		Y: -math.Asin(clampUnit(d.m.At(2, 0))),
		Z: math.Atan2(d.m.At(1, 0), d.m.At(0, 0)),
	}
}

func (d *DCM) Row(i int) Vector {
	return Vector{X: d.m.At(i, 0), Y: d.m.At(i, 1), Z: d.m.At(i, 2)}
}

func (d *DCM) Rows() [3]Vector {
	return [3]Vector{d.Row(0), d.Row(1), d.Row(2)}
}

// SetRows overwrites the matrix. The caller is responsible for passing a
// near-orthonormal set.
func (d *DCM) SetRows(rows [3]Vector) {
	for i, r := range rows {
		d.setRow(i, r)
	}
}

func (d *DCM) setRow(i int, v Vector) {
	d.m.Set(i, 0, v.X)
	d.m.Set(i, 1, v.Y)
	d.m.Set(i, 2, v.Z)
}

// asin of a renormalized row can see |x| slightly above 1.
func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
