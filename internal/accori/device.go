package accori

import (
	"sensortag-ng/internal/gyrocal"
	"sensortag-ng/internal/sensors/mpu6500"
)

// RawSample is one accel+gyro reading in device counts, before any axis
// remapping.
type RawSample struct {
	Accel           [3]int16
	Gyro            [3]int16
	AccelRangeError bool
	GyroRangeError  bool
}

// Device is the accelerometer/gyroscope hardware the pipeline drives.
type Device interface {
	Detect() bool
	// ReadRawSamples returns the latest sample. With wait set it blocks until
	// the chip reports fresh data.
	ReadRawSamples(wait bool) (RawSample, error)
	ConfigureInterrupt(enabled bool, freqHz int) error
	// AcknowledgeInterrupt re-arms the data-ready interrupt; once per tick.
	AcknowledgeInterrupt() error
	EnableAccel(on bool) error
	EnableGyro(on bool) error
	AccelToMilliG(raw int16) int16
	GyroToCentiDegPerSec(raw int16) int32
	// GyroFullScale is the active gyro range in dps.
	GyroFullScale() int

	gyrocal.Registers
}

// NewMPU6500 adapts the MPU-6500 driver to Device.
func NewMPU6500(d *mpu6500.Device) Device { return mpuDevice{d} }

type mpuDevice struct {
	*mpu6500.Device
}

func (m mpuDevice) ReadRawSamples(wait bool) (RawSample, error) {
	s, err := m.Measure(wait)
	if err != nil {
		return RawSample{}, err
	}
	return RawSample{
		Accel:           s.Accel,
		Gyro:            s.Gyro,
		AccelRangeError: s.AccelRangeError,
		GyroRangeError:  s.GyroRangeError,
	}, nil
}

func (m mpuDevice) GyroFullScale() int { return m.GyroScale() }

// Absent stands in for a tag without a working IMU: it never detects.
type Absent struct{}

func (Absent) Detect() bool                           { return false }
func (Absent) ReadRawSamples(bool) (RawSample, error) { return RawSample{}, nil }
func (Absent) ConfigureInterrupt(bool, int) error     { return nil }
func (Absent) AcknowledgeInterrupt() error            { return nil }
func (Absent) EnableAccel(bool) error                 { return nil }
func (Absent) EnableGyro(bool) error                  { return nil }
func (Absent) AccelToMilliG(int16) int16              { return 0 }
func (Absent) GyroToCentiDegPerSec(int16) int32       { return 0 }
func (Absent) GyroFullScale() int                     { return 0 }
func (Absent) ReadGyroOffsets() ([3]int16, error)     { return [3]int16{}, nil }
func (Absent) WriteGyroOffsets([3]int16) error        { return nil }
