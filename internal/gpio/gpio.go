// Package gpio drives the indicator LEDs and watches the IMU data-ready line
// through the Linux GPIO character device.
package gpio

import (
	"errors"

	"sensortag-ng/internal/monitoring"
)

const consumer = "sensortag-ng"

type output interface {
	SetValue(v int) error
	Close() error
}

// LEDConfig names the chip and line offsets of the indicator LEDs. A
// negative offset leaves that LED out.
type LEDConfig struct {
	Chip         string
	Calibration  int
	AccelError   int
	GyroError    int
	AngularError int
}

// LEDs is the indicator bank. Missing LEDs are silently skipped; a nil
// *LEDs is a valid no-op indicator.
type LEDs struct {
	calibration output
	accelErr    output
	gyroErr     output
	angularErr  output
}

func (l *LEDs) Calibration(on bool) {
	if l != nil {
		set("calibration", l.calibration, on)
	}
}

func (l *LEDs) AccelRangeError(on bool) {
	if l != nil {
		set("accel_error", l.accelErr, on)
	}
}

func (l *LEDs) GyroRangeError(on bool) {
	if l != nil {
		set("gyro_error", l.gyroErr, on)
	}
}

func (l *LEDs) AngularError(on bool) {
	if l != nil {
		set("angular_error", l.angularErr, on)
	}
}

// Close switches every LED off and releases the lines.
func (l *LEDs) Close() error {
	if l == nil {
		return nil
	}
	var errs []error
	for _, o := range []*output{&l.calibration, &l.accelErr, &l.gyroErr, &l.angularErr} {
		if *o == nil {
			continue
		}
		_ = (*o).SetValue(0)
		errs = append(errs, (*o).Close())
		*o = nil
	}
	return errors.Join(errs...)
}

func set(name string, o output, on bool) {
	if o == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := o.SetValue(v); err != nil {
		monitoring.Logf("gpio: led %s: %v", name, err)
	}
}

// Interrupt delivers data-ready edges as a pending flag: C holds at most one
// event, and edges that arrive while one is pending are folded into it.
type Interrupt struct {
	c     chan struct{}
	close func() error
}

func newInterrupt() *Interrupt {
	return &Interrupt{c: make(chan struct{}, 1)}
}

// C is readable while an interrupt is pending. Receiving clears it.
func (i *Interrupt) C() <-chan struct{} {
	if i == nil {
		return nil
	}
	return i.c
}

func (i *Interrupt) post() {
	select {
	case i.c <- struct{}{}:
	default:
	}
}

func (i *Interrupt) Close() error {
	if i == nil || i.close == nil {
		return nil
	}
	err := i.close()
	i.close = nil
	return err
}
