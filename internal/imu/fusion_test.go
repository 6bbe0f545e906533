package imu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFusion_ZeroWhenAccelUntrusted(t *testing.T) {
	ori := Vector{X: 0.3, Y: -0.2, Z: 1.0}
	cases := []struct {
		name  string
		valid bool
		acc   Vector
	}{
		{name: "Invalid", valid: false, acc: Vector{Z: 1}},
		{name: "XOutOfRange", valid: true, acc: Vector{X: 0.99, Z: 0.1}},
		{name: "XNegativeOutOfRange", valid: true, acc: Vector{X: -0.9849, Z: 0.1}},
		{name: "YOutOfRange", valid: true, acc: Vector{Y: 0.99, Z: 0.1}},
		{name: "InvalidAndOutOfRange", valid: false, acc: Vector{X: 1, Y: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f Fusion
			// Leave a stale correction behind to make sure Compute clears it.
			f.Compute(Vector{}, true, Vector{X: 0.1, Z: 1}, true, 0.2, 100)
			f.Compute(ori, tc.valid, tc.acc, true, 0.5, 200)
			if got := f.Correction(); got != (Vector{}) {
				t.Fatalf("correction=%v want zero", got)
			}
		})
	}
}

func TestFusion_GateBoundaryIsInclusive(t *testing.T) {
	var f Fusion
	f.Compute(Vector{}, true, Vector{X: MaxAccelForAngle, Z: 0.17}, false, 0, 100)
	if f.Correction() == (Vector{}) {
		t.Fatalf("expected a correction at the gate boundary")
	}
}

func TestFusion_YawZeroWithoutHeading(t *testing.T) {
	accs := []Vector{
		{X: 0.1, Y: 0.2, Z: 0.97},
		{X: -0.3, Y: 0.1, Z: -0.9},
		{Z: 1},
		{Z: -1},
	}
	for _, acc := range accs {
		var f Fusion
		f.Compute(Vector{X: 0.1, Y: 0.1, Z: 2.5}, true, acc, false, 1.2, 50)
		if got := f.Correction().Z; got != 0 {
			t.Fatalf("acc=%v yaw correction=%v want 0", acc, got)
		}
	}
}

func TestFusion_UprightBranch(t *testing.T) {
	const freq = 100.0
	acc := Vector{X: 0.2, Y: -0.1, Z: 0.97}
	ori := Vector{X: 0.05, Y: 0.01, Z: 0.3}

	var f Fusion
	f.Compute(ori, true, acc, true, 0.5, freq)

	k := 0.5 / freq
	want := Vector{
		X: (math.Asin(acc.Y) - ori.X) * k,
		Y: (-math.Asin(acc.X) - ori.Y) * k,
		Z: (0.5 - ori.Z) * k,
	}
	got := f.Correction()
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestFusion_InvertedBranchFlipsPitch(t *testing.T) {
	const freq = 200.0
	acc := Vector{X: 0.1, Y: 0.05, Z: -0.99}
	ori := Vector{X: 3.0, Y: 0.02, Z: 0}

	var f Fusion
	f.Compute(ori, true, acc, false, 0, freq)

	implied := NormalizeAngles(Vector{X: math.Pi - math.Asin(acc.Y), Y: -math.Asin(acc.X), Z: math.Pi})
	diff := NormalizeAngles(Sub(implied, ori))
	k := 0.5 / freq
	got := f.Correction()
	assert.InDelta(t, diff.X*k, got.X, 1e-12)
	assert.InDelta(t, -diff.Y*k, got.Y, 1e-12)
	assert.Equal(t, 0.0, got.Z)
}

func TestFusion_Apply(t *testing.T) {
	var f Fusion
	f.Compute(Vector{}, true, Vector{X: 0.5, Z: 0.8}, false, 0, 10)
	c := f.Correction()
	got := f.Apply(Vector{X: 1, Y: 1, Z: 1})
	assert.Equal(t, Vector{X: 1 + c.X, Y: 1 + c.Y, Z: 1 + c.Z}, got)

	f.Clear()
	assert.Equal(t, Vector{}, f.Correction())
}

func TestFusion_LevelIntegrationStaysLevel(t *testing.T) {
	const freq = 200.0
	d := NewDCM()
	var f Fusion
	for i := 0; i < 50; i++ {
		d.Rotate(f.Apply(Vector{}))
		d.Normalize()
		f.Compute(d.Angles(), true, Vector{Z: 1}, false, 0, freq)
	}
	assertVecInDelta(t, Vector{}, d.Angles(), 1e-9)
}

func TestFusion_InvertedConvergesToRollPi(t *testing.T) {
	const freq = 200.0
	d := NewDCM()
	var f Fusion
	for i := 0; i < 3000; i++ {
		d.Rotate(f.Apply(Vector{}))
		d.Normalize()
		f.Compute(d.Angles(), true, Vector{Z: -1}, false, 0, freq)
	}
	got := d.Angles()
	assert.InDelta(t, math.Pi, math.Abs(got.X), 0.05)
	assert.InDelta(t, 0, got.Y, 1e-6)
}
