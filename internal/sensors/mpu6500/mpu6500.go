package mpu6500

import (
	"fmt"
	"time"

	"sensortag-ng/internal/i2c"
)

var sleep = time.Sleep

// Minimal MPU-6500 driver.
//
// Focus: detection, power/scale configuration, data-ready interrupt and the
// gyro offset registers used by bias calibration.

const (
	addrDefault = 0x68

	regXGOffset     = 19
	regYGOffset     = 21
	regZGOffset     = 23
	regSmplrtDiv    = 25
	regConfig       = 26
	regGyroConfig   = 27
	regAccelConfig  = 28
	regAccelConfig2 = 29
	regIntPinCfg    = 55
	regIntEnable    = 56
	regIntStatus    = 58
	regAccelXoutH   = 59 // accel(6) temp(2) gyro(6)
	regPwrMgmt1     = 107
	regPwrMgmt2     = 108
	regWhoAmI       = 117

	whoAmIVal = 0x70

	pwr1GyroStandby   = 0x10
	pwr1Sleep         = 0x40
	pwr2DisableGyros  = 0x07
	pwr2DisableAccels = 0x38

	intPinActiveLow  = 0x80
	intRawReadyEn    = 0x01
	intStatusDataRdy = 0x01

	// Sample rate divider base with the DLPF enabled.
	internalRateHz = 1000
	dummyIntFreq   = 1

	// Raw counts at or beyond this are flagged as a range error.
	errorLevelReg = 30000

	dataReadyPolls = 200
)

// AccelRate selects the accelerometer DLPF bandwidth.
type AccelRate byte

const (
	AccelRate460Hz AccelRate = 0x00
	AccelRate184Hz AccelRate = 0x01
	AccelRate92Hz  AccelRate = 0x02
	AccelRate41Hz  AccelRate = 0x03
	AccelRate20Hz  AccelRate = 0x04
	AccelRate10Hz  AccelRate = 0x05
	AccelRate5Hz   AccelRate = 0x06
)

// GyroRate selects the gyro DLPF bandwidth (CONFIG.DLPF_CFG).
type GyroRate byte

const (
	GyroRate250Hz  GyroRate = 0x00
	GyroRate184Hz  GyroRate = 0x01
	GyroRate92Hz   GyroRate = 0x02
	GyroRate41Hz   GyroRate = 0x03
	GyroRate20Hz   GyroRate = 0x04
	GyroRate10Hz   GyroRate = 0x05
	GyroRate5Hz    GyroRate = 0x06
	GyroRate3600Hz GyroRate = 0x07
)

// Sample is one raw burst read. Counts are as reported by the chip.
type Sample struct {
	Accel           [3]int16
	Gyro            [3]int16
	AccelRangeError bool
	GyroRangeError  bool
}

// Settings applied whenever a sensor is switched on.
type Settings struct {
	AccelRate  AccelRate
	AccelScale int // g: 2, 4, 8, 16
	GyroRate   GyroRate
	GyroScale  int // dps: 250, 500, 1000, 2000
}

// DefaultSettings mirror the tag firmware: slow accel filter, wide gyro range.
func DefaultSettings() Settings {
	return Settings{
		AccelRate:  AccelRate5Hz,
		AccelScale: 16,
		GyroRate:   GyroRate184Hz,
		GyroScale:  2000,
	}
}

type Device struct {
	dev regIO
	set Settings

	accelScale int
	gyroScale  int
	accelOn    bool
	gyroOn     bool
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
	ReadRegI16BE(reg byte) (int16, error)
	WriteRegI16BE(reg byte, v int16) error
}

func DefaultAddress() uint16 { return addrDefault }

// New wraps an I2C device. It does not touch the bus; call Detect or Init.
func New(dev *i2c.Dev, set Settings) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu6500: dev is nil")
	}
	return newWithIO(dev, set), nil
}

func newWithIO(dev regIO, set Settings) *Device {
	// Power-on register defaults.
	return &Device{dev: dev, set: set, accelScale: 2, gyroScale: 250, accelOn: true, gyroOn: true}
}

// Detect reports whether WHO_AM_I answers with the MPU-6500 id.
func (d *Device) Detect() bool {
	if d == nil || d.dev == nil {
		return false
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	return err == nil && who == whoAmIVal
}

// Init detects the chip and leaves both sensors and the interrupt off.
func (d *Device) Init() (bool, error) {
	if !d.Detect() {
		return false, nil
	}
	if err := d.EnableAccel(false); err != nil {
		return true, err
	}
	if err := d.EnableGyro(false); err != nil {
		return true, err
	}
	return true, d.ConfigureInterrupt(false, dummyIntFreq)
}

// ConfigureInterrupt sets the sample rate and the data-ready interrupt.
// freqHz is clamped to 1..1000.
func (d *Device) ConfigureInterrupt(enabled bool, freqHz int) error {
	if freqHz < 1 {
		freqHz = 1
	}
	if freqHz > internalRateHz {
		freqHz = internalRateHz
	}
	div := byte(internalRateHz/freqHz - 1)
	if err := d.dev.WriteReg(regSmplrtDiv, div); err != nil {
		return fmt.Errorf("mpu6500: sample rate: %w", err)
	}
	if err := d.dev.WriteReg(regIntPinCfg, intPinActiveLow); err != nil {
		return fmt.Errorf("mpu6500: int pin cfg: %w", err)
	}
	en := byte(0)
	if enabled {
		en = intRawReadyEn
	}
	if err := d.dev.WriteReg(regIntEnable, en); err != nil {
		return fmt.Errorf("mpu6500: int enable: %w", err)
	}
	return nil
}

// AcknowledgeInterrupt clears the pending interrupt by reading INT_STATUS.
func (d *Device) AcknowledgeInterrupt() error {
	if _, err := d.dev.ReadRegU8(regIntStatus); err != nil {
		return fmt.Errorf("mpu6500: int ack: %w", err)
	}
	return nil
}

func (d *Device) chipEnable(on bool) error {
	reg, err := d.dev.ReadRegU8(regPwrMgmt1)
	if err != nil {
		return fmt.Errorf("mpu6500: pwr_mgmt_1 read: %w", err)
	}
	if on {
		reg &^= pwr1GyroStandby | pwr1Sleep
	} else {
		reg |= pwr1GyroStandby | pwr1Sleep
	}
	if err := d.dev.WriteReg(regPwrMgmt1, reg); err != nil {
		return fmt.Errorf("mpu6500: pwr_mgmt_1 write: %w", err)
	}
	return nil
}

func (d *Device) setDisabled(mask byte, on bool) error {
	reg, err := d.dev.ReadRegU8(regPwrMgmt2)
	if err != nil {
		return fmt.Errorf("mpu6500: pwr_mgmt_2 read: %w", err)
	}
	if on {
		reg &^= mask
	} else {
		reg |= mask
	}
	if err := d.dev.WriteReg(regPwrMgmt2, reg); err != nil {
		return fmt.Errorf("mpu6500: pwr_mgmt_2 write: %w", err)
	}
	return nil
}

// EnableAccel powers the accelerometer and, when switching on, applies the
// configured rate and scale.
func (d *Device) EnableAccel(on bool) error {
	d.accelOn = on
	if err := d.chipEnable(d.accelOn || d.gyroOn); err != nil {
		return err
	}
	if err := d.setDisabled(pwr2DisableAccels, on); err != nil {
		return err
	}
	if !on {
		return nil
	}
	if err := d.ConfigureAccelRate(d.set.AccelRate); err != nil {
		return err
	}
	return d.ConfigureAccelScale(d.set.AccelScale)
}

// EnableGyro powers the gyroscope and, when switching on, applies the
// configured rate and scale.
func (d *Device) EnableGyro(on bool) error {
	d.gyroOn = on
	if err := d.chipEnable(d.accelOn || d.gyroOn); err != nil {
		return err
	}
	if err := d.setDisabled(pwr2DisableGyros, on); err != nil {
		return err
	}
	if !on {
		return nil
	}
	if err := d.ConfigureGyroRate(d.set.GyroRate); err != nil {
		return err
	}
	return d.ConfigureGyroScale(d.set.GyroScale)
}

func (d *Device) ConfigureAccelRate(r AccelRate) error {
	if r > AccelRate5Hz {
		r = AccelRate460Hz
	}
	if err := d.dev.WriteReg(regAccelConfig2, byte(r)); err != nil {
		return fmt.Errorf("mpu6500: accel rate: %w", err)
	}
	return nil
}

// ConfigureAccelScale selects ±2/4/8/16 g. Unknown values select ±2 g.
func (d *Device) ConfigureAccelScale(g int) error {
	var reg byte
	switch g {
	case 4:
		reg = 0x08
	case 8:
		reg = 0x10
	case 16:
		reg = 0x18
	default:
		g, reg = 2, 0x00
	}
	if err := d.dev.WriteReg(regAccelConfig, reg); err != nil {
		return fmt.Errorf("mpu6500: accel scale: %w", err)
	}
	d.accelScale = g
	return nil
}

func (d *Device) ConfigureGyroRate(r GyroRate) error {
	if r > GyroRate3600Hz {
		r = GyroRate250Hz
	}
	if err := d.dev.WriteReg(regConfig, byte(r)); err != nil {
		return fmt.Errorf("mpu6500: gyro rate: %w", err)
	}
	return nil
}

// ConfigureGyroScale selects ±250/500/1000/2000 dps with the DLPF in use.
// Unknown values select ±250 dps.
func (d *Device) ConfigureGyroScale(dps int) error {
	var reg byte
	switch dps {
	case 500:
		reg = 0x08
	case 1000:
		reg = 0x10
	case 2000:
		reg = 0x18
	default:
		dps, reg = 250, 0x00
	}
	if err := d.dev.WriteReg(regGyroConfig, reg); err != nil {
		return fmt.Errorf("mpu6500: gyro scale: %w", err)
	}
	d.gyroScale = dps
	return nil
}

func (d *Device) AccelScale() int { return d.accelScale }

func (d *Device) GyroScale() int { return d.gyroScale }

// AccelToMilliG converts raw counts at the active scale to milli-g.
func (d *Device) AccelToMilliG(raw int16) int16 {
	return int16(int32(raw) * 1000 * int32(d.accelScale) / 32768)
}

// GyroToCentiDegPerSec converts raw counts at the active scale to 0.01 °/s.
func (d *Device) GyroToCentiDegPerSec(raw int16) int32 {
	return int32(int64(raw) * 100 * int64(d.gyroScale) / 32768)
}

func (d *Device) waitForData() error {
	for i := 0; i < dataReadyPolls; i++ {
		st, err := d.dev.ReadRegU8(regIntStatus)
		if err != nil {
			return fmt.Errorf("mpu6500: int status: %w", err)
		}
		if st&intStatusDataRdy != 0 {
			return nil
		}
		sleep(time.Millisecond)
	}
	return fmt.Errorf("mpu6500: data not ready")
}

// Measure reads accel and gyro in one burst. With wait set it first polls
// until the chip reports fresh data.
func (d *Device) Measure(wait bool) (Sample, error) {
	if d == nil || d.dev == nil {
		return Sample{}, fmt.Errorf("mpu6500: device is nil")
	}
	if wait {
		if err := d.waitForData(); err != nil {
			return Sample{}, err
		}
	}
	buf := make([]byte, 14)
	if err := d.dev.ReadReg(regAccelXoutH, buf); err != nil {
		return Sample{}, fmt.Errorf("mpu6500: read sensors failed: %w", err)
	}
	var s Sample
	for i := 0; i < 3; i++ {
		s.Accel[i] = int16(buf[2*i])<<8 | int16(buf[2*i+1])
		s.Gyro[i] = int16(buf[8+2*i])<<8 | int16(buf[8+2*i+1])
	}
	s.AccelRangeError = outOfRange(s.Accel)
	s.GyroRangeError = outOfRange(s.Gyro)
	return s, nil
}

func outOfRange(v [3]int16) bool {
	for _, c := range v {
		a := int32(c)
		if a < 0 {
			a = -a
		}
		if a >= errorLevelReg {
			return true
		}
	}
	return false
}

var offsetRegs = [3]byte{regXGOffset, regYGOffset, regZGOffset}

// ReadGyroOffsets returns the X/Y/Z gyro offset registers.
func (d *Device) ReadGyroOffsets() ([3]int16, error) {
	var out [3]int16
	for i, reg := range offsetRegs {
		v, err := d.dev.ReadRegI16BE(reg)
		if err != nil {
			return out, fmt.Errorf("mpu6500: read offset %d: %w", reg, err)
		}
		out[i] = v
	}
	return out, nil
}

// WriteGyroOffsets programs the X/Y/Z gyro offset registers.
func (d *Device) WriteGyroOffsets(offsets [3]int16) error {
	for i, reg := range offsetRegs {
		if err := d.dev.WriteRegI16BE(reg, offsets[i]); err != nil {
			return fmt.Errorf("mpu6500: write offset %d: %w", reg, err)
		}
	}
	return nil
}
