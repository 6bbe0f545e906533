package accori

import (
	"testing"

	"sensortag-ng/internal/monitoring"
)

// fakeDevice models the chip at ±16 g / ±2000 dps.
type fakeDevice struct {
	absent  bool
	sample  RawSample
	readErr error
	ackErr  error

	reads []bool // wait flag per read
	acks  int

	accelOn    bool
	gyroOn     bool
	intEnabled bool
	intFreq    int
	intConfigs int

	offsets      [3]int16
	offsetWrites [][3]int16
}

func (f *fakeDevice) Detect() bool { return !f.absent }

func (f *fakeDevice) ReadRawSamples(wait bool) (RawSample, error) {
	f.reads = append(f.reads, wait)
	if f.readErr != nil {
		return RawSample{}, f.readErr
	}
	return f.sample, nil
}

func (f *fakeDevice) ConfigureInterrupt(enabled bool, freqHz int) error {
	f.intEnabled = enabled
	f.intFreq = freqHz
	f.intConfigs++
	return nil
}

func (f *fakeDevice) AcknowledgeInterrupt() error {
	f.acks++
	return f.ackErr
}

func (f *fakeDevice) EnableAccel(on bool) error { f.accelOn = on; return nil }
func (f *fakeDevice) EnableGyro(on bool) error  { f.gyroOn = on; return nil }

func (f *fakeDevice) AccelToMilliG(raw int16) int16 {
	return int16(int32(raw) * 1000 * 16 / 32768)
}

func (f *fakeDevice) GyroToCentiDegPerSec(raw int16) int32 {
	return int32(int64(raw) * 100 * 2000 / 32768)
}

func (f *fakeDevice) GyroFullScale() int { return 2000 }

func (f *fakeDevice) ReadGyroOffsets() ([3]int16, error) { return f.offsets, nil }

func (f *fakeDevice) WriteGyroOffsets(o [3]int16) error {
	f.offsets = o
	f.offsetWrites = append(f.offsetWrites, o)
	return nil
}

type fakeIndicator struct {
	calibration bool
	accelErr    bool
	gyroErr     bool
	angularErr  bool
	calChanges  int
}

func (f *fakeIndicator) Calibration(on bool) {
	f.calibration = on
	f.calChanges++
}
func (f *fakeIndicator) AccelRangeError(on bool) { f.accelErr = on }
func (f *fakeIndicator) GyroRangeError(on bool)  { f.gyroErr = on }
func (f *fakeIndicator) AngularError(on bool)    { f.angularErr = on }

func muteLogs(t *testing.T) {
	t.Helper()
	prev := monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}
