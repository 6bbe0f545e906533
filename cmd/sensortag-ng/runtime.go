package main

import (
	"context"
	"fmt"
	"log"
	"net"

	"sensortag-ng/internal/accori"
	"sensortag-ng/internal/config"
	"sensortag-ng/internal/gpio"
	"sensortag-ng/internal/i2c"
	"sensortag-ng/internal/sensors/mpu6500"
	"sensortag-ng/internal/udp"
)

type tagRuntime struct {
	cfg config.Config

	bus  *i2c.Bus
	leds *gpio.LEDs
	irq  *gpio.Interrupt
	out  *udp.Broadcaster
	ctl  *udp.Listener
	svc  *accori.Service

	serving bool
	done    chan struct{}
}

// newRuntime brings up the tag. Missing hardware is logged and the tag keeps
// running with zero read-outs; only the network side is fatal.
func newRuntime(ctx context.Context, cfg config.Config) (*tagRuntime, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx is nil")
	}
	r := &tagRuntime{cfg: cfg, done: make(chan struct{})}

	out, err := udp.NewBroadcaster(cfg.Notify.Dest)
	if err != nil {
		return nil, fmt.Errorf("notify init failed: %w", err)
	}
	r.out = out

	ctl, err := udp.Listen(cfg.Control.Listen)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("control init failed: %w", err)
	}
	r.ctl = ctl

	dev := r.openIMU()
	opt := accori.Options{
		Interrupt:          cfg.IMU.Interrupt,
		InterruptHz:        cfg.IMU.InterruptHz,
		PollHz:             cfg.IMU.PollHz,
		SwapAxes:           cfg.IMU.SwapAxes,
		CalibrationSeconds: cfg.IMU.CalibrationSeconds,
		RangeErrorLED:      cfg.IMU.RangeErrorLED,
		AngularErrorLED:    cfg.IMU.AngularErrorLED,
	}

	var irqC <-chan struct{}
	if opt.Interrupt && dev.Detect() {
		irq, err := gpio.OpenInterrupt(cfg.IMU.InterruptChip, cfg.IMU.InterruptLine)
		if err != nil {
			log.Printf("imu interrupt unavailable, polling at %d Hz: %v", opt.PollHz, err)
			opt.Interrupt = false
		} else {
			r.irq = irq
			irqC = irq.C()
		}
	}

	var ind accori.Indicator
	if cfg.LEDs.Any() {
		leds, err := gpio.OpenLEDs(gpio.LEDConfig{
			Chip:         cfg.LEDs.Chip,
			Calibration:  cfg.LEDs.CalibrationLine,
			AccelError:   cfg.LEDs.AccelErrorLine,
			GyroError:    cfg.LEDs.GyroErrorLine,
			AngularError: cfg.LEDs.AngularErrorLine,
		})
		if err != nil {
			log.Printf("leds init failed: %v", err)
		} else {
			r.leds = leds
			ind = leds
		}
	}

	r.svc = accori.NewService(accori.ServiceConfig{
		AccelerationPeriod: cfg.Notify.AccelerationPeriod,
		OrientationPeriod:  cfg.Notify.OrientationPeriod,
	}, dev, opt, ind, r.out, irqC)
	if err := r.svc.Start(ctx); err != nil {
		r.Close()
		return nil, err
	}

	r.serving = true
	go r.serveControl(ctx)
	return r, nil
}

func (r *tagRuntime) openIMU() accori.Device {
	c := r.cfg.IMU
	if !c.Enable {
		log.Printf("imu disabled")
		return accori.Absent{}
	}
	bus, err := i2c.Open(i2c.BusPath(c.I2CBus))
	if err != nil {
		log.Printf("imu init failed: %v", err)
		return accori.Absent{}
	}
	r.bus = bus

	chip, err := mpu6500.New(bus.Dev(c.Address), mpu6500.DefaultSettings())
	if err != nil {
		log.Printf("imu init failed: %v", err)
		return accori.Absent{}
	}
	ok, err := chip.Init()
	if err != nil {
		log.Printf("imu init failed: %v", err)
	}
	if !ok {
		log.Printf("imu not detected bus=%s addr=0x%02X", bus.Path(), c.Address)
		return accori.Absent{}
	}
	log.Printf("imu mpu6500 bus=%s addr=0x%02X", bus.Path(), c.Address)
	return accori.NewMPU6500(chip)
}

func (r *tagRuntime) serveControl(ctx context.Context) {
	defer close(r.done)
	err := r.ctl.Serve(ctx, func(p []byte, from net.Addr) {
		if err := r.svc.Deliver(ctx, p); err != nil && ctx.Err() == nil {
			log.Printf("control frame from %s dropped: %v", from, err)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("control listener stopped: %v", err)
	}
}

// ControlAddr is the bound control address, useful when listening on port 0.
func (r *tagRuntime) ControlAddr() net.Addr {
	if r == nil || r.ctl == nil {
		return nil
	}
	return r.ctl.Addr()
}

func (r *tagRuntime) Snapshot() accori.Snapshot {
	if r == nil || r.svc == nil {
		return accori.Snapshot{}
	}
	return r.svc.Snapshot()
}

func (r *tagRuntime) Calibrate(ctx context.Context) error {
	if r == nil || r.svc == nil {
		return fmt.Errorf("imu unavailable")
	}
	return r.svc.Calibrate(ctx)
}

func (r *tagRuntime) Close() {
	if r == nil {
		return
	}
	// The control goroutine delivers into svc, so it stops first. svc stays
	// set; its methods fail cleanly once closed.
	if r.ctl != nil {
		_ = r.ctl.Close()
		if r.serving {
			<-r.done
			r.serving = false
		}
		r.ctl = nil
	}
	r.svc.Close()
	if r.irq != nil {
		_ = r.irq.Close()
		r.irq = nil
	}
	if r.leds != nil {
		_ = r.leds.Close()
		r.leds = nil
	}
	if r.bus != nil {
		_ = r.bus.Close()
		r.bus = nil
	}
	if r.out != nil {
		_ = r.out.Close()
		r.out = nil
	}
}

func formatSnapshot(s accori.Snapshot) string {
	return fmt.Sprintf("imu detected=%t freq=%dHz accel=%v ori=%v offsets=%v ticks=%d range_errors=%d/%d calibrations=%d last_error=%q",
		s.Detected, s.Frequency, s.Acceleration, s.Orientation, s.GyroOffsets,
		s.Ticks, s.AccelRangeErrors, s.GyroRangeErrors, s.Calibrations, s.LastError)
}
