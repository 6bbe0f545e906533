//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// OpenLEDs requests every configured LED line as an output driven low.
func OpenLEDs(cfg LEDConfig) (*LEDs, error) {
	chip := cfg.Chip
	if chip == "" {
		chip = "gpiochip0"
	}
	l := &LEDs{}
	for _, want := range []struct {
		offset int
		dst    *output
	}{
		{cfg.Calibration, &l.calibration},
		{cfg.AccelError, &l.accelErr},
		{cfg.GyroError, &l.gyroErr},
		{cfg.AngularError, &l.angularErr},
	} {
		if want.offset < 0 {
			continue
		}
		line, err := gpiocdev.RequestLine(chip, want.offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("gpio: led line %s:%d: %w", chip, want.offset, err), l.Close())
		}
		*want.dst = line
	}
	return l, nil
}

// OpenInterrupt watches the falling edge of an active-low data-ready line.
func OpenInterrupt(chip string, offset int) (*Interrupt, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	if offset < 0 {
		return nil, fmt.Errorf("gpio: invalid interrupt line %d", offset)
	}
	irq := newInterrupt()
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { irq.post() }),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("gpio: interrupt line %s:%d: %w", chip, offset, err)
	}
	irq.close = line.Close
	return irq, nil
}
