package accori

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oneG        = 2048 // raw counts at ±16 g
	gyro90DegPS = 1475 // raw counts ≈ 90 °/s at ±2000 dps
)

func newTestPipeline(t *testing.T, dev *fakeDevice, opt Options) (*Pipeline, *fakeIndicator, *int) {
	t.Helper()
	muteLogs(t)
	ind := &fakeIndicator{}
	signals := 0
	p := NewPipeline(dev, opt, ind, func() { signals++ })
	p.Init()
	return p, ind, &signals
}

func unswapped() Options {
	opt := DefaultOptions()
	opt.SwapAxes = false
	return opt
}

func ticks(p *Pipeline, n int) (last TickResult) {
	for i := 0; i < n; i++ {
		last = p.HandleInterrupt()
	}
	return last
}

func TestPipeline_AbsentDeviceReadsZero(t *testing.T) {
	dev := &fakeDevice{absent: true, sample: RawSample{Accel: [3]int16{1, 2, oneG}}}
	p, ind, _ := newTestPipeline(t, dev, DefaultOptions())

	require.False(t, p.Detected())
	require.Equal(t, uint8(1), p.Test())

	p.SetAccelerationSubscribed(true)
	p.SetOrientationSubscribed(true)
	require.False(t, p.Sampling())
	require.False(t, dev.accelOn)

	require.Equal(t, TickResult{}, p.HandleInterrupt())
	require.Equal(t, [3]int16{}, p.ReadAcceleration())
	require.Equal(t, [3]int16{}, p.ReadOrientation())
	require.Empty(t, dev.reads)

	select {
	case <-p.Calibrate():
	default:
		t.Fatalf("calibrate without a device should complete at once")
	}
	require.Zero(t, ind.calChanges)
	require.NoError(t, p.CalibrateReset())
	require.Empty(t, dev.offsetWrites)
}

func TestPipeline_SharedInterruptEnable(t *testing.T) {
	dev := &fakeDevice{}
	p, _, signals := newTestPipeline(t, dev, DefaultOptions())
	require.Equal(t, uint8(0), p.Test())
	require.False(t, p.Sampling())
	require.False(t, dev.intEnabled)

	p.SetAccelerationSubscribed(true)
	require.True(t, dev.accelOn)
	require.True(t, dev.intEnabled)
	require.Equal(t, 200, dev.intFreq)
	require.Equal(t, 200, p.Frequency())
	require.Equal(t, 1, *signals, "starting sampling must post a first tick")

	configs := dev.intConfigs
	p.SetOrientationSubscribed(true)
	require.True(t, dev.gyroOn)
	require.Equal(t, configs, dev.intConfigs, "interrupt already running")

	p.SetAccelerationSubscribed(false)
	require.False(t, dev.accelOn)
	require.True(t, dev.intEnabled, "gyro still needs the interrupt")
	require.True(t, p.Sampling())

	p.SetOrientationSubscribed(false)
	require.False(t, dev.gyroOn)
	require.False(t, dev.intEnabled)
	require.False(t, p.Sampling())
}

func TestPipeline_LevelStaysLevel(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{Accel: [3]int16{0, 0, oneG}}}
	p, _, _ := newTestPipeline(t, dev, unswapped())
	p.SetAccelerationSubscribed(true)
	p.SetOrientationSubscribed(true)
	acks := dev.acks

	ticks(p, 50)

	ang := p.Angles()
	assert.InDelta(t, 0, ang.X, 1e-9)
	assert.InDelta(t, 0, ang.Y, 1e-9)
	assert.InDelta(t, 0, ang.Z, 1e-9)
	require.Equal(t, [3]int16{}, p.ReadOrientation())
	require.Equal(t, acks+50, dev.acks)
	for _, w := range dev.reads {
		require.False(t, w, "interrupt ticks must not wait for data")
	}

	require.Equal(t, [3]int16{0, 0, 1000}, p.ReadAcceleration())
	require.Equal(t, [3]int16{}, p.ReadAcceleration(), "average resets after read")
}

func TestPipeline_YawRateIntegratesToHalfTurn(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{Gyro: [3]int16{0, 0, gyro90DegPS}}}
	p, _, _ := newTestPipeline(t, dev, unswapped())
	// Orientation only: the accelerometer stays off and untrusted.
	p.SetOrientationSubscribed(true)
	require.False(t, p.Enablement().AccelEnabled)

	ticks(p, 400)

	ang := p.Angles()
	assert.InDelta(t, math.Pi, math.Abs(ang.Z), 0.01)
	assert.InDelta(t, 0, ang.X, 1e-9)
	assert.InDelta(t, 0, ang.Y, 1e-9)

	ori := p.ReadOrientation()
	assert.InDelta(t, 18000, math.Abs(float64(ori[2])), 60)
}

func TestPipeline_InvertedConvergesToRollPi(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{Accel: [3]int16{0, 0, -oneG}}}
	p, _, _ := newTestPipeline(t, dev, unswapped())
	p.SetAccelerationSubscribed(true)
	p.SetOrientationSubscribed(true)

	ticks(p, 3000)

	ang := p.Angles()
	assert.InDelta(t, math.Pi, math.Abs(ang.X), 0.05)
	assert.InDelta(t, 0, ang.Y, 1e-6)
	ori := p.ReadOrientation()
	assert.Greater(t, math.Abs(float64(ori[0])), 17700.0)
}

func TestPipeline_SwapAxes(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{Accel: [3]int16{0, oneG, oneG}}}
	p, _, _ := newTestPipeline(t, dev, DefaultOptions())
	p.SetAccelerationSubscribed(true)
	p.HandleInterrupt()
	require.Equal(t, [3]int16{1000, 0, -1000}, p.ReadAcceleration())

	dev2 := &fakeDevice{sample: RawSample{Accel: [3]int16{0, oneG, oneG}}}
	p2, _, _ := newTestPipeline(t, dev2, unswapped())
	p2.SetAccelerationSubscribed(true)
	p2.HandleInterrupt()
	require.Equal(t, [3]int16{0, 1000, 1000}, p2.ReadAcceleration())
}

func TestPipeline_CalibrationLifecycle(t *testing.T) {
	opt := unswapped()
	opt.CalibrationSeconds = 1
	// The calibrator sees chip-frame samples, so swapping must not matter.
	opt.SwapAxes = true
	dev := &fakeDevice{sample: RawSample{Accel: [3]int16{0, 0, oneG}, Gyro: [3]int16{5, -3, 2}}}
	p, ind, _ := newTestPipeline(t, dev, opt)

	done := p.Calibrate()
	require.True(t, ind.calibration)
	require.True(t, dev.accelOn)
	require.True(t, dev.gyroOn)
	require.True(t, dev.intEnabled)
	require.True(t, p.Enablement().Calibrating)
	require.Equal(t, 200, p.Calibrator().Remaining())
	require.Equal(t, int32(1), p.Calibrator().Factor())
	require.Equal(t, done, p.Calibrate(), "a pending run is joined")

	// Unsubscribing mid-run keeps the sensors on.
	p.SetAccelerationSubscribed(false)
	p.SetOrientationSubscribed(false)
	require.True(t, dev.accelOn)
	require.True(t, dev.gyroOn)

	for i := 1; i < 200; i++ {
		require.False(t, p.HandleInterrupt().CalibrationDone, "tick %d", i)
	}
	select {
	case <-done:
		t.Fatalf("completed early")
	default:
	}
	require.Empty(t, dev.offsetWrites)

	require.True(t, p.HandleInterrupt().CalibrationDone)
	select {
	case <-done:
	default:
		t.Fatalf("completion channel not closed")
	}
	require.Equal(t, [][3]int16{{-10, 6, -4}}, dev.offsetWrites)
	require.False(t, ind.calibration)
	require.False(t, p.Enablement().Calibrating)
	require.False(t, dev.accelOn, "unsubscribed sensors are turned off")
	require.False(t, dev.gyroOn)
	require.False(t, p.Sampling())

	require.False(t, p.HandleInterrupt().CalibrationDone, "completion reported once")
}

func TestPipeline_CalibrationKeepsSubscribedSensor(t *testing.T) {
	opt := unswapped()
	opt.InterruptHz = 10
	opt.CalibrationSeconds = 1
	dev := &fakeDevice{}
	p, _, _ := newTestPipeline(t, dev, opt)
	p.SetAccelerationSubscribed(true)
	p.Calibrate()
	require.True(t, ticks(p, 10).CalibrationDone)
	require.True(t, dev.accelOn)
	require.False(t, dev.gyroOn)
	require.True(t, p.Sampling())
}

func TestPipeline_SleepDuringCalibration(t *testing.T) {
	opt := unswapped()
	opt.InterruptHz = 10
	opt.CalibrationSeconds = 1
	dev := &fakeDevice{}
	p, _, _ := newTestPipeline(t, dev, opt)
	p.SetOrientationSubscribed(true)
	p.Calibrate()

	p.ConnectionClosed()
	require.True(t, dev.gyroOn, "calibration keeps running")
	require.False(t, p.Enablement().OrientationSubscribed)

	ticks(p, 10)
	require.False(t, dev.gyroOn)
	require.False(t, dev.accelOn)
}

func TestPipeline_CalibrateReset(t *testing.T) {
	dev := &fakeDevice{offsets: [3]int16{1, 2, 3}}
	p, _, _ := newTestPipeline(t, dev, DefaultOptions())
	require.NoError(t, p.CalibrateReset())
	require.Equal(t, [][3]int16{{}}, dev.offsetWrites)
}

func TestPipeline_OrientationResetZeroesYaw(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{Gyro: [3]int16{0, 0, gyro90DegPS}}}
	p, _, _ := newTestPipeline(t, dev, unswapped())
	p.SetOrientationSubscribed(true)
	ticks(p, 50)
	require.Greater(t, p.Angles().Z, 0.3)

	p.OrientationReset()
	assert.InDelta(t, 0, p.Angles().Z, 1e-9)
}

func TestPipeline_ReadErrorSkipsTick(t *testing.T) {
	dev := &fakeDevice{readErr: errors.New("nack")}
	p, _, _ := newTestPipeline(t, dev, unswapped())
	p.SetAccelerationSubscribed(true)
	acks := dev.acks

	res := p.HandleInterrupt()
	require.Equal(t, TickResult{}, res)
	require.Equal(t, acks+1, dev.acks, "interrupt is still acknowledged")
	require.Equal(t, [3]int16{}, p.ReadAcceleration())
}

func TestPipeline_RangeErrorLEDs(t *testing.T) {
	opt := unswapped()
	opt.InterruptHz = 10
	opt.RangeErrorLED = true
	dev := &fakeDevice{sample: RawSample{AccelRangeError: true}}
	p, ind, _ := newTestPipeline(t, dev, opt)
	p.SetAccelerationSubscribed(true)

	res := p.HandleInterrupt()
	require.True(t, res.AccelRangeError)
	require.False(t, res.GyroRangeError)
	require.True(t, ind.accelErr)

	dev.sample.AccelRangeError = false
	// Lit for freq*2 ticks counting the one that set it.
	ticks(p, 18)
	require.True(t, ind.accelErr)
	ticks(p, 1)
	require.False(t, ind.accelErr)
	require.False(t, ind.gyroErr)
}

func TestPipeline_RangeErrorLEDsDisabled(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{GyroRangeError: true}}
	p, ind, _ := newTestPipeline(t, dev, unswapped())
	p.SetOrientationSubscribed(true)
	require.True(t, p.HandleInterrupt().GyroRangeError)
	require.False(t, ind.gyroErr)
}

func TestPipeline_AngularErrorLED(t *testing.T) {
	opt := unswapped()
	opt.InterruptHz = 10
	opt.AngularErrorLED = true
	// ≈24 °/s at 10 Hz is more than 2° per tick.
	dev := &fakeDevice{sample: RawSample{Gyro: [3]int16{400, 0, 0}}}
	p, ind, _ := newTestPipeline(t, dev, opt)
	p.SetOrientationSubscribed(true)

	p.HandleInterrupt()
	require.True(t, ind.angularErr)

	dev.sample.Gyro = [3]int16{}
	ticks(p, 19)
	require.False(t, ind.angularErr)
}

func TestPipeline_PollMode(t *testing.T) {
	opt := unswapped()
	opt.Interrupt = false
	// 16 counts ≈ 0.97 °/s.
	dev := &fakeDevice{sample: RawSample{Accel: [3]int16{0, 0, oneG}, Gyro: [3]int16{0, 0, 16}}}
	p, _, signals := newTestPipeline(t, dev, opt)
	require.False(t, p.Polling())
	require.Equal(t, time.Second, p.PollInterval())

	p.SetOrientationSubscribed(true)
	require.True(t, p.Polling())
	require.False(t, dev.intEnabled)
	require.Equal(t, maxRateHz, dev.intFreq)
	require.Equal(t, 1, p.Frequency())
	require.Zero(t, *signals)

	p.HandleInterrupt()
	require.Empty(t, dev.reads, "poll mode does not sample on interrupts")

	p.Poll()
	require.Equal(t, []bool{true}, dev.reads)
	// One poll at 1 Hz integrates a full second.
	ori := p.ReadOrientation()
	assert.InDelta(t, 97, float64(ori[2]), 2)

	// Read-outs return cached values without touching the device.
	require.Equal(t, ori, p.ReadOrientation())
	p.SetAccelerationSubscribed(true)
	require.Equal(t, [3]int16{0, 0, 1000}, p.ReadAcceleration())
	require.Len(t, dev.reads, 1)

	p.Sleep()
	require.False(t, p.Polling())
	require.Equal(t, TickResult{}, p.Poll())
	require.Len(t, dev.reads, 1)
}

func TestPipeline_PollModeCalibrationCompletesOnPolls(t *testing.T) {
	opt := unswapped()
	opt.Interrupt = false
	opt.CalibrationSeconds = 2
	dev := &fakeDevice{sample: RawSample{Gyro: [3]int16{1, 1, 1}}}
	p, _, _ := newTestPipeline(t, dev, opt)

	done := p.Calibrate()
	require.True(t, p.Polling(), "calibration powers the sensors without a subscription")
	require.Equal(t, 2, p.Calibrator().Remaining())
	require.False(t, p.Poll().CalibrationDone)
	require.True(t, p.Poll().CalibrationDone)
	select {
	case <-done:
	default:
		t.Fatalf("calibration should complete after two polls")
	}
	require.Equal(t, [][3]int16{{-2, -2, -2}}, dev.offsetWrites)
	require.False(t, p.Polling())
}

func TestPipeline_AccelerationAverageDoesNotOverflow(t *testing.T) {
	dev := &fakeDevice{sample: RawSample{Accel: [3]int16{0, 0, oneG}}}
	p, _, _ := newTestPipeline(t, dev, unswapped())
	p.SetOrientationSubscribed(true)

	// Hours of unread 1 g samples at 200 Hz.
	const n = 1 << 22
	p.accSum = [3]int64{0, 0, 1000 * n}
	p.accCount = n
	p.HandleInterrupt()
	require.Equal(t, [3]int16{0, 0, 1000}, p.ReadAcceleration())
}
