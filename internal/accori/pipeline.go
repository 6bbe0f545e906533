// Package accori is the acceleration and orientation engine of the tag: it
// samples the IMU, integrates attitude, runs gyro bias calibration and serves
// the acceleration/orientation read-outs.
package accori

import (
	"math"
	"time"

	"sensortag-ng/internal/gyrocal"
	"sensortag-ng/internal/imu"
	"sensortag-ng/internal/monitoring"
)

const (
	maxRateHz = 1000

	// Per-tick angular step that lights the angular error LED.
	angularErrorDeg = 2.0
	// Error LEDs stay lit for this many seconds worth of ticks.
	errorLEDSeconds = 2
)

// Options are the deployment variants of the pipeline.
type Options struct {
	// Interrupt selects data-ready driven sampling at InterruptHz. Otherwise
	// the owner calls Poll every PollInterval.
	Interrupt   bool
	InterruptHz int
	PollHz      int

	// SwapAxes swaps X/Y and negates Z on both sensors (mounting correction).
	SwapAxes           bool
	CalibrationSeconds int
	RangeErrorLED      bool
	AngularErrorLED    bool
}

func DefaultOptions() Options {
	return Options{
		Interrupt:          true,
		InterruptHz:        200,
		PollHz:             1,
		SwapAxes:           true,
		CalibrationSeconds: 4,
	}
}

// Indicator is the LED bank. Any method may be a no-op.
type Indicator interface {
	Calibration(on bool)
	AccelRangeError(on bool)
	GyroRangeError(on bool)
	AngularError(on bool)
}

type noIndicator struct{}

func (noIndicator) Calibration(bool)     {}
func (noIndicator) AccelRangeError(bool) {}
func (noIndicator) GyroRangeError(bool)  {}
func (noIndicator) AngularError(bool)    {}

// Enablement is the sensor power and subscription state.
type Enablement struct {
	AccelEnabled          bool
	GyroEnabled           bool
	AccelSubscribed       bool
	OrientationSubscribed bool
	Calibrating           bool
}

// TickResult reports what one interrupt tick observed.
type TickResult struct {
	CalibrationDone bool
	AccelRangeError bool
	GyroRangeError  bool
}

// Pipeline owns all acquisition and fusion state. It is not safe for
// concurrent use; Service serializes access.
type Pipeline struct {
	dev    Device
	opt    Options
	ind    Indicator
	signal func()
	cal    *gyrocal.Calibrator

	detected bool
	en       Enablement
	freq     int

	accVec   imu.Vector
	accSum   [3]int64
	accCount int64
	ori      [3]int16
	dcm      *imu.DCM
	fusion   imu.Fusion
	calDone  chan struct{}

	accErrTicks int
	gyrErrTicks int
	angErrTicks int
}

// NewPipeline wires a pipeline to dev. ind may be nil. signal, if set, is
// called when sampling starts in interrupt mode so the first tick runs
// without waiting for an edge.
func NewPipeline(dev Device, opt Options, ind Indicator, signal func()) *Pipeline {
	if dev == nil {
		dev = Absent{}
	}
	if ind == nil {
		ind = noIndicator{}
	}
	if signal == nil {
		signal = func() {}
	}
	def := DefaultOptions()
	if opt.InterruptHz <= 0 {
		opt.InterruptHz = def.InterruptHz
	}
	if opt.InterruptHz > maxRateHz {
		opt.InterruptHz = maxRateHz
	}
	if opt.PollHz <= 0 {
		opt.PollHz = def.PollHz
	}
	if opt.PollHz > maxRateHz {
		opt.PollHz = maxRateHz
	}
	if opt.CalibrationSeconds <= 0 {
		opt.CalibrationSeconds = def.CalibrationSeconds
	}
	return &Pipeline{
		dev:    dev,
		opt:    opt,
		ind:    ind,
		signal: signal,
		cal:    gyrocal.New(dev),
		dcm:    imu.NewDCM(),
	}
}

// Init clears all state, detects the device and puts it to sleep.
func (p *Pipeline) Init() {
	p.resetData()
	p.detected = p.dev.Detect()
	if !p.detected {
		monitoring.Logf("accori: imu not detected, read-outs will be zero")
	}
	p.Sleep()
}

func (p *Pipeline) Detected() bool { return p.detected }

// Test is the production self-test result: 0 when the IMU answered.
func (p *Pipeline) Test() uint8 {
	if p.detected {
		return 0
	}
	return 1
}

func (p *Pipeline) Enablement() Enablement { return p.en }

// Sampling reports whether the interrupt (or poll) mechanism is active.
func (p *Pipeline) Sampling() bool { return p.en.AccelEnabled || p.en.GyroEnabled }

// Frequency is the integration rate of the active mechanism in Hz.
func (p *Pipeline) Frequency() int { return p.freq }

// Angles returns the integrated roll, pitch and yaw in radians.
func (p *Pipeline) Angles() imu.Vector { return p.dcm.Angles() }

// Calibrator exposes the bias calibrator, mostly for diagnostics.
func (p *Pipeline) Calibrator() *gyrocal.Calibrator { return p.cal }

func (p *Pipeline) SetAccelerationSubscribed(on bool) {
	p.en.AccelSubscribed = on
	if on || !p.en.Calibrating {
		p.enableAccel(on)
	}
}

func (p *Pipeline) SetOrientationSubscribed(on bool) {
	p.en.OrientationSubscribed = on
	if on || !p.en.Calibrating {
		p.enableGyro(on)
	}
}

// Sleep drops both subscriptions and powers the sensors down unless a
// calibration is running.
func (p *Pipeline) Sleep() {
	p.en.AccelSubscribed = false
	p.en.OrientationSubscribed = false
	if !p.en.Calibrating {
		p.enableAccel(false)
		p.enableGyro(false)
	}
}

func (p *Pipeline) ConnectionOpened() {}

func (p *Pipeline) ConnectionClosed() { p.Sleep() }

// Calibrate powers both sensors and starts a bias calibration lasting
// CalibrationSeconds at the sampling frequency. The returned channel is
// closed once the new offsets have been written. Calling Calibrate again
// while a run is pending returns the same channel. Without a detected
// device the channel is already closed.
func (p *Pipeline) Calibrate() <-chan struct{} {
	if p.en.Calibrating && p.calDone != nil {
		return p.calDone
	}
	done := make(chan struct{})
	if !p.detected {
		close(done)
		return done
	}
	p.calDone = done
	p.ind.Calibration(true)
	p.enableAccel(true)
	p.enableGyro(true)
	p.en.Calibrating = true
	p.cal.SetFactor(gyrocal.FactorForRange(p.dev.GyroFullScale()))
	p.cal.Begin(p.freq * p.opt.CalibrationSeconds)
	return done
}

// CalibrateReset zeroes the gyro bias registers. A calibration in progress
// is not cancelled and will overwrite them when it completes.
func (p *Pipeline) CalibrateReset() error {
	if !p.detected {
		return nil
	}
	return p.cal.Reset()
}

// OrientationReset zeroes the yaw and keeps roll and pitch.
func (p *Pipeline) OrientationReset() { p.dcm.ResetYaw() }

// HandleInterrupt runs one data-ready tick. It must be called from the same
// goroutine as every other Pipeline method.
func (p *Pipeline) HandleInterrupt() TickResult {
	var res TickResult
	if !p.detected {
		return res
	}
	if p.opt.Interrupt && p.Sampling() {
		if s, ok := p.acquire(false); ok {
			res.AccelRangeError = s.AccelRangeError
			res.GyroRangeError = s.GyroRangeError
			p.integrate(s.Gyro, p.opt.InterruptHz)
		}
	}
	if err := p.dev.AcknowledgeInterrupt(); err != nil {
		monitoring.Logf("accori: ack interrupt: %v", err)
	}
	res.CalibrationDone = p.checkCalibration()
	p.countDown()
	return res
}

// Polling reports whether Poll must be driven at PollInterval.
func (p *Pipeline) Polling() bool { return p.detected && !p.opt.Interrupt && p.Sampling() }

func (p *Pipeline) PollInterval() time.Duration { return time.Second / time.Duration(p.opt.PollHz) }

// Poll runs one fixed-rate tick in poll mode, waiting for fresh data. It is
// a no-op in interrupt mode or while both sensors are off.
func (p *Pipeline) Poll() TickResult {
	var res TickResult
	if !p.Polling() {
		return res
	}
	if s, ok := p.acquire(true); ok {
		res.AccelRangeError = s.AccelRangeError
		res.GyroRangeError = s.GyroRangeError
		p.integrate(s.Gyro, p.opt.PollHz)
	}
	res.CalibrationDone = p.checkCalibration()
	p.countDown()
	return res
}

// ReadAcceleration returns the average acceleration in milli-g since the
// previous call and starts a new average.
func (p *Pipeline) ReadAcceleration() [3]int16 {
	if !p.detected {
		return [3]int16{}
	}
	var out [3]int16
	if p.accCount == 0 {
		return out
	}
	for i := range out {
		out[i] = int16(p.accSum[i] / p.accCount)
	}
	p.accSum = [3]int64{}
	p.accCount = 0
	return out
}

// ReadOrientation returns roll, pitch and yaw in hundredths of a degree.
func (p *Pipeline) ReadOrientation() [3]int16 {
	if !p.detected {
		return [3]int16{}
	}
	return p.ori
}

func (p *Pipeline) resetData() {
	p.accVec = imu.Zero()
	p.accSum = [3]int64{}
	p.accCount = 0
	p.ori = [3]int16{}
	p.dcm.Reset()
	p.fusion.Clear()
}

// enableAccel and enableGyro share one interrupt: the first sensor on
// starts sampling and the last one off stops it.
func (p *Pipeline) enableAccel(on bool) {
	if !p.detected {
		return
	}
	p.en.AccelEnabled = on
	if err := p.dev.EnableAccel(on); err != nil {
		monitoring.Logf("accori: accel enable=%v: %v", on, err)
	}
	if !p.en.GyroEnabled {
		p.enableSampling(on)
	}
}

func (p *Pipeline) enableGyro(on bool) {
	if !p.detected {
		return
	}
	p.en.GyroEnabled = on
	if err := p.dev.EnableGyro(on); err != nil {
		monitoring.Logf("accori: gyro enable=%v: %v", on, err)
	}
	if !p.en.AccelEnabled {
		p.enableSampling(on)
	}
}

func (p *Pipeline) enableSampling(on bool) {
	switch {
	case on && p.opt.Interrupt:
		if err := p.dev.ConfigureInterrupt(true, p.opt.InterruptHz); err != nil {
			monitoring.Logf("accori: enable interrupt: %v", err)
		}
		if err := p.dev.AcknowledgeInterrupt(); err != nil {
			monitoring.Logf("accori: ack interrupt: %v", err)
		}
		p.freq = p.opt.InterruptHz
		p.signal()
	case on:
		if err := p.dev.ConfigureInterrupt(false, maxRateHz); err != nil {
			monitoring.Logf("accori: configure poll rate: %v", err)
		}
		p.freq = p.opt.PollHz
	case p.opt.Interrupt:
		if err := p.dev.ConfigureInterrupt(false, p.opt.InterruptHz); err != nil {
			monitoring.Logf("accori: disable interrupt: %v", err)
		}
	}
}

// acquire reads one sample, feeds the calibrator with the chip-frame gyro,
// remaps axes and accumulates acceleration. It returns the remapped sample.
func (p *Pipeline) acquire(wait bool) (RawSample, bool) {
	s, err := p.dev.ReadRawSamples(wait)
	if err != nil {
		monitoring.Logf("accori: read sample: %v", err)
		return RawSample{}, false
	}
	if p.cal.InProgress() {
		if _, err := p.cal.Step(s.Gyro); err != nil {
			monitoring.Logf("accori: calibration: %v", err)
		}
	}
	if p.opt.SwapAxes {
		s.Accel = swapAxes(s.Accel)
		s.Gyro = swapAxes(s.Gyro)
	}

	var mg [3]int16
	for i, raw := range s.Accel {
		mg[i] = p.dev.AccelToMilliG(raw)
		p.accSum[i] += int64(mg[i])
	}
	p.accCount++
	p.accVec = imu.Scale(imu.Vector{X: float64(mg[0]), Y: float64(mg[1]), Z: float64(mg[2])}, 1.0/1000)

	if p.opt.RangeErrorLED {
		if s.AccelRangeError {
			p.ind.AccelRangeError(true)
			p.accErrTicks = p.freq * errorLEDSeconds
		}
		if s.GyroRangeError {
			p.ind.GyroRangeError(true)
			p.gyrErrTicks = p.freq * errorLEDSeconds
		}
	}
	return s, true
}

// integrate advances the attitude by one gyro sample taken at freq Hz and
// prepares the fusion correction for the next one.
func (p *Pipeline) integrate(gyro [3]int16, freq int) {
	k := imu.DegToRad / 100 / float64(freq)
	gyr := imu.Vector{
		X: float64(p.dev.GyroToCentiDegPerSec(gyro[0])) * k,
		Y: float64(p.dev.GyroToCentiDegPerSec(gyro[1])) * k,
		Z: float64(p.dev.GyroToCentiDegPerSec(gyro[2])) * k,
	}

	if p.opt.AngularErrorLED {
		if math.Max(math.Max(gyr.X, gyr.Y), gyr.Z) >= angularErrorDeg*imu.DegToRad {
			p.ind.AngularError(true)
			p.angErrTicks = p.freq * errorLEDSeconds
		}
	}

	gyr = p.fusion.Apply(gyr)
	p.dcm.Rotate(gyr)
	p.dcm.Normalize()

	ang := p.dcm.Angles()
	p.ori = [3]int16{centiDeg(ang.X), centiDeg(ang.Y), centiDeg(ang.Z)}

	// No heading reference on this hardware.
	p.fusion.Compute(ang, p.en.AccelEnabled, p.accVec, false, 0, float64(freq))
}

func (p *Pipeline) checkCalibration() bool {
	if !p.en.Calibrating || p.cal.InProgress() {
		return false
	}
	p.en.Calibrating = false
	p.ind.Calibration(false)
	if p.calDone != nil {
		close(p.calDone)
		p.calDone = nil
	}
	if !p.en.AccelSubscribed {
		p.enableAccel(false)
	}
	if !p.en.OrientationSubscribed {
		p.enableGyro(false)
	}
	return true
}

func (p *Pipeline) countDown() {
	if p.accErrTicks > 0 {
		p.accErrTicks--
		if p.accErrTicks == 0 {
			p.ind.AccelRangeError(false)
		}
	}
	if p.gyrErrTicks > 0 {
		p.gyrErrTicks--
		if p.gyrErrTicks == 0 {
			p.ind.GyroRangeError(false)
		}
	}
	if p.angErrTicks > 0 {
		p.angErrTicks--
		if p.angErrTicks == 0 {
			p.ind.AngularError(false)
		}
	}
}

func swapAxes(v [3]int16) [3]int16 {
	return [3]int16{v[1], v[0], -v[2]}
}

func centiDeg(rad float64) int16 {
	return int16(rad * imu.RadToDeg * 100)
}
