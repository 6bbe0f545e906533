// Package i2c talks to register-mapped sensors on a Linux I2C bus.
package i2c

import "fmt"

// Dev is a device at a 7-bit address on a Bus. Transfers on the same Bus
// are serialized.
type Dev struct {
	bus  *Bus
	addr uint16
}

// BusPath maps a bus number to its character device.
func BusPath(n int) string { return fmt.Sprintf("/dev/i2c-%d", n) }

func (d *Dev) Addr() uint16 {
	if d == nil {
		return 0
	}
	return d.addr
}

func (d *Dev) Write(p []byte) error {
	_, err := d.tx(p, nil)
	return err
}

func (d *Dev) Read(p []byte) error {
	_, err := d.tx(nil, p)
	return err
}

// WriteRead writes w then reads into r with a repeated start.
func (d *Dev) WriteRead(w, r []byte) error {
	_, err := d.tx(w, r)
	return err
}

func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.WriteRead([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.Write([]byte{reg, value})
}

// ReadRegI16BE reads a signed big-endian register pair starting at reg.
func (d *Dev) ReadRegI16BE(reg byte) (int16, error) {
	var b [2]byte
	if err := d.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return int16(uint16(b[0])<<8 | uint16(b[1])), nil
}

// WriteRegI16BE writes v to the register pair starting at reg, high byte first.
func (d *Dev) WriteRegI16BE(reg byte, v int16) error {
	u := uint16(v)
	return d.Write([]byte{reg, byte(u >> 8), byte(u)})
}
