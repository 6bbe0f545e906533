package accori

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sensortag-ng/internal/monitoring"
	"sensortag-ng/internal/wire"
)

// Sender carries encoded frames to the client.
type Sender interface {
	Send(payload []byte) error
}

type ServiceConfig struct {
	AccelerationPeriod time.Duration
	OrientationPeriod  time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		AccelerationPeriod: 200 * time.Millisecond,
		OrientationPeriod:  200 * time.Millisecond,
	}
}

type Snapshot struct {
	Detected   bool
	Enablement Enablement
	Frequency  int

	Acceleration [3]int16
	Orientation  [3]int16
	GyroOffsets  [3]int16

	Ticks            uint64
	AccelRangeErrors uint64
	GyroRangeErrors  uint64
	Calibrations     uint64

	LastError string
	UpdatedAt time.Time
}

// Service runs a Pipeline on its own goroutine. Interrupt edges, client
// frames and notification timers are all processed there, one at a time.
type Service struct {
	cfg ServiceConfig
	p   *Pipeline
	out Sender
	irq <-chan struct{}

	signalCh chan struct{}
	framesCh chan wire.Frame
	calReqCh chan chan error

	mu   sync.RWMutex
	snap Snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
	started  atomic.Bool
	doneCh   chan struct{}

	// Owned by run.
	accNotify  bool
	oriNotify  bool
	cpIndicate bool
	accTick    *time.Ticker
	oriTick    *time.Ticker
	pollTick   *time.Ticker
	calDone    <-chan struct{}
	calWaiters []chan error
}

// NewService builds the pipeline for dev. irq delivers data-ready edges and
// may be nil in poll mode. out may be nil, in which case nothing is sent.
func NewService(cfg ServiceConfig, dev Device, opt Options, ind Indicator, out Sender, irq <-chan struct{}) *Service {
	def := DefaultServiceConfig()
	if cfg.AccelerationPeriod <= 0 {
		cfg.AccelerationPeriod = def.AccelerationPeriod
	}
	if cfg.OrientationPeriod <= 0 {
		cfg.OrientationPeriod = def.OrientationPeriod
	}
	s := &Service{
		cfg:      cfg,
		out:      out,
		irq:      irq,
		signalCh: make(chan struct{}, 1),
		framesCh: make(chan wire.Frame, 16),
		calReqCh: make(chan chan error, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	s.p = NewPipeline(dev, opt, ind, s.post)
	return s
}

// post is the deferred tick signal. A pending signal absorbs new ones.
func (s *Service) post() {
	select {
	case s.signalCh <- struct{}{}:
	default:
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("accori: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("accori: ctx is nil")
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("accori: service already started")
	}
	s.p.Init()
	s.publish()
	go s.run(ctx)
	return nil
}

// Close stops the run loop and waits for it to exit, so the Sender and the
// interrupt source can be released afterwards.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stop()
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Service) stop() { s.stopOnce.Do(func() { close(s.stopCh) }) }

func (s *Service) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Deliver queues one client datagram. p is copied.
func (s *Service) Deliver(ctx context.Context, p []byte) error {
	if s == nil {
		return fmt.Errorf("accori: service is nil")
	}
	f, err := wire.DecodeFrame(append([]byte(nil), p...))
	if err != nil {
		return err
	}
	if s.stopped() {
		return fmt.Errorf("accori: service stopped")
	}
	select {
	case s.framesCh <- f:
		return nil
	case <-s.stopCh:
		return fmt.Errorf("accori: service stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Calibrate runs a bias calibration and waits for it to finish. It joins a
// run that is already in progress.
func (s *Service) Calibrate(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("accori: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("accori: ctx is nil")
	}
	if !s.Snapshot().Detected {
		return fmt.Errorf("accori: imu not detected")
	}
	if s.stopped() {
		return fmt.Errorf("accori: service stopped")
	}
	done := make(chan error, 1)
	select {
	case s.calReqCh <- done:
	case <-s.stopCh:
		return fmt.Errorf("accori: service stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.doneCh:
		return fmt.Errorf("accori: service stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.stopTickers()
		s.pollTick = resetTicker(s.pollTick, false, 0)
	}()
	for {
		s.syncPoll()
		var accC, oriC, pollC <-chan time.Time
		if s.accTick != nil {
			accC = s.accTick.C
		}
		if s.oriTick != nil {
			oriC = s.oriTick.C
		}
		if s.pollTick != nil {
			pollC = s.pollTick.C
		}

		select {
		case <-ctx.Done():
			s.failWaiters(ctx.Err())
			s.stop()
			return
		case <-s.stopCh:
			s.failWaiters(fmt.Errorf("accori: service stopped"))
			return
		case <-s.irq:
			s.record(s.p.HandleInterrupt())
		case <-s.signalCh:
			s.record(s.p.HandleInterrupt())
		case <-pollC:
			s.record(s.p.Poll())
		case f := <-s.framesCh:
			s.handleFrame(f)
		case done := <-s.calReqCh:
			s.calWaiters = append(s.calWaiters, done)
			s.calDone = s.p.Calibrate()
			s.publish()
		case <-s.calDone:
			s.calDone = nil
			s.calibrationFinished()
		case <-accC:
			v := s.p.ReadAcceleration()
			s.update(func(sn *Snapshot) { sn.Acceleration = v })
			if s.accNotify {
				s.send(wire.AccelerationFrame(v))
			}
		case <-oriC:
			v := s.p.ReadOrientation()
			s.update(func(sn *Snapshot) { sn.Orientation = v })
			if s.oriNotify {
				s.send(wire.OrientationFrame(v))
			}
		}
	}
}

// syncPoll keeps the poll ticker running exactly while the pipeline polls.
// It is never reset while running so other events cannot delay it.
func (s *Service) syncPoll() {
	on := s.p.Polling()
	switch {
	case on && s.pollTick == nil:
		s.pollTick = time.NewTicker(s.p.PollInterval())
	case !on && s.pollTick != nil:
		s.pollTick.Stop()
		s.pollTick = nil
	}
}

func (s *Service) record(res TickResult) {
	ori := s.p.ReadOrientation()
	s.update(func(sn *Snapshot) {
		sn.Ticks++
		sn.Orientation = ori
		if res.AccelRangeError {
			sn.AccelRangeErrors++
		}
		if res.GyroRangeError {
			sn.GyroRangeErrors++
		}
	})
}

func (s *Service) handleFrame(f wire.Frame) {
	switch f.Kind {
	case wire.KindConnect:
		s.p.ConnectionOpened()
	case wire.KindDisconnect:
		s.accNotify, s.oriNotify, s.cpIndicate = false, false, false
		s.stopTickers()
		s.p.ConnectionClosed()
	case wire.KindSubscribe:
		sub, err := wire.ParseSubscribe(f.Payload)
		if err != nil {
			s.logErr("subscribe", err)
			return
		}
		s.subscribe(sub)
	case wire.KindControlWrite:
		s.controlWrite(f.Payload)
	default:
		monitoring.Logf("accori: ignoring frame kind=0x%02X len=%d", byte(f.Kind), len(f.Payload))
	}
	s.publish()
}

func (s *Service) subscribe(sub wire.Subscribe) {
	on := sub.Enabled()
	switch sub.Char {
	case wire.CharAcceleration:
		s.accNotify = on
		s.p.SetAccelerationSubscribed(on)
		s.accTick = resetTicker(s.accTick, on, s.cfg.AccelerationPeriod)
	case wire.CharOrientation:
		s.oriNotify = on
		s.p.SetOrientationSubscribed(on)
		s.oriTick = resetTicker(s.oriTick, on, s.cfg.OrientationPeriod)
	case wire.CharControlPoint:
		s.cpIndicate = on
	}
}

func (s *Service) controlWrite(p []byte) {
	if !s.cpIndicate {
		s.send(wire.WriteResponseFrame(wire.ATTCCCDImproperlyConfigured))
		return
	}
	s.send(wire.WriteResponseFrame(wire.ATTSuccess))

	op, err := wire.ParseControlPoint(p)
	if err != nil {
		s.logErr("control point", err)
		return
	}
	switch op {
	case wire.OpCalibrate:
		if !s.p.Detected() {
			s.send(wire.IndicateFrame(op, wire.ResultError))
			return
		}
		// Answered when the run completes.
		s.calDone = s.p.Calibrate()
	case wire.OpOrientationReset:
		s.p.OrientationReset()
		s.send(wire.IndicateFrame(op, wire.ResultSuccess))
	case wire.OpCalibrationReset:
		if err := s.p.CalibrateReset(); err != nil {
			s.logErr("calibration reset", err)
			s.send(wire.IndicateFrame(op, wire.ResultError))
			return
		}
		s.send(wire.IndicateFrame(op, wire.ResultSuccess))
	default:
		s.send(wire.IndicateFrame(op, wire.ResultError))
	}
}

func (s *Service) calibrationFinished() {
	offsets := s.p.Calibrator().Offsets()
	monitoring.Logf("accori: calibration done offsets=%v", offsets)
	s.update(func(sn *Snapshot) {
		sn.Calibrations++
		sn.GyroOffsets = offsets
	})
	if s.cpIndicate {
		s.send(wire.IndicateFrame(wire.OpCalibrate, wire.ResultSuccess))
	}
	for _, w := range s.calWaiters {
		w <- nil
	}
	s.calWaiters = nil
}

func (s *Service) failWaiters(err error) {
	for _, w := range s.calWaiters {
		w <- err
	}
	s.calWaiters = nil
}

func (s *Service) send(f wire.Frame) {
	if s.out == nil {
		return
	}
	if err := s.out.Send(f.Encode()); err != nil {
		s.logErr("send", err)
	}
}

func (s *Service) logErr(what string, err error) {
	monitoring.Logf("accori: %s: %v", what, err)
	msg := what + ": " + err.Error()
	s.update(func(sn *Snapshot) { sn.LastError = msg })
}

func (s *Service) stopTickers() {
	s.accTick = resetTicker(s.accTick, false, 0)
	s.oriTick = resetTicker(s.oriTick, false, 0)
}

func resetTicker(t *time.Ticker, on bool, period time.Duration) *time.Ticker {
	if !on {
		if t != nil {
			t.Stop()
		}
		return nil
	}
	if t == nil {
		return time.NewTicker(period)
	}
	t.Reset(period)
	return t
}

// publish refreshes the pipeline-derived fields of the snapshot.
func (s *Service) publish() {
	s.update(func(sn *Snapshot) {})
}

func (s *Service) update(f func(sn *Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Detected = s.p.Detected()
	s.snap.Enablement = s.p.Enablement()
	s.snap.Frequency = s.p.Frequency()
	f(&s.snap)
	s.snap.UpdatedAt = time.Now().UTC()
}
