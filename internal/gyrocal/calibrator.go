// Package gyrocal estimates the gyroscope zero-rate bias from a run of
// stationary samples and folds it into the device's bias registers.
package gyrocal

import "fmt"

// Registers is the device bias register bank, one 16-bit offset per axis.
type Registers interface {
	ReadGyroOffsets() ([3]int16, error)
	WriteGyroOffsets(offsets [3]int16) error
}

// Calibrator is a one-shot accumulator: Begin arms it, Step feeds it raw
// samples and the last Step writes the new offsets.
//
// Only one run can be in flight. The offset read-modify-write is not
// atomic against other writers of the bias registers.
type Calibrator struct {
	regs Registers

	factor    int32
	total     int32
	remaining int32
	sum       [3]int64
	offsets   [3]int16
}

func New(regs Registers) *Calibrator {
	return &Calibrator{regs: regs, factor: FactorForRange(250)}
}

// FactorForRange converts a gyro full-scale range (dps) into the divisor that
// maps an average raw-count bias onto offset register units.
func FactorForRange(dps int) int32 {
	switch dps {
	case 500:
		return 4
	case 1000:
		return 2
	case 2000:
		return 1
	default:
		return 8
	}
}

// SetFactor sets the divisor used by the next completion; see FactorForRange.
func (c *Calibrator) SetFactor(f int32) {
	if f <= 0 {
		f = 1
	}
	c.factor = f
}

func (c *Calibrator) Factor() int32 { return c.factor }

// Begin clears the sums and arms a run of samples steps. A count of zero
// leaves the calibrator idle.
func (c *Calibrator) Begin(samples int) {
	if samples < 0 {
		samples = 0
	}
	c.sum = [3]int64{}
	c.total = int32(samples)
	c.remaining = int32(samples)
}

func (c *Calibrator) InProgress() bool { return c.remaining > 0 }

func (c *Calibrator) Remaining() int { return int(c.remaining) }

// Offsets returns the offsets written by the last completed run.
func (c *Calibrator) Offsets() [3]int16 { return c.offsets }

// Step adds one raw gyro sample. It is a no-op while idle. done reports that
// this sample completed the run; the registers have been updated by then
// unless err is non-nil.
func (c *Calibrator) Step(sample [3]int16) (done bool, err error) {
	if c.remaining <= 0 {
		return false, nil
	}
	for i, v := range sample {
		c.sum[i] += int64(v)
	}
	c.remaining--
	if c.remaining > 0 {
		return false, nil
	}

	old, err := c.regs.ReadGyroOffsets()
	if err != nil {
		return true, fmt.Errorf("gyrocal: read offsets: %w", err)
	}
	var next [3]int16
	for i := range next {
		next[i] = old[i] - int16(c.sum[i]*2/int64(c.factor)/int64(c.total))
	}
	if err := c.regs.WriteGyroOffsets(next); err != nil {
		return true, fmt.Errorf("gyrocal: write offsets: %w", err)
	}
	c.offsets = next
	return true, nil
}

// Reset zeroes the bias registers. It does not stop a run in progress; that
// run will still write its own offsets when it completes.
func (c *Calibrator) Reset() error {
	if err := c.regs.WriteGyroOffsets([3]int16{}); err != nil {
		return fmt.Errorf("gyrocal: reset offsets: %w", err)
	}
	c.offsets = [3]int16{}
	return nil
}
