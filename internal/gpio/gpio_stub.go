//go:build !linux

package gpio

import "fmt"

func OpenLEDs(cfg LEDConfig) (*LEDs, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func OpenInterrupt(chip string, offset int) (*Interrupt, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}
