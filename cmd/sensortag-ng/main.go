package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sensortag-ng/internal/config"
)

func main() {
	var configPath string
	var calibrate bool
	var statusEvery time.Duration
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.BoolVar(&calibrate, "calibrate", false, "Run a gyro bias calibration at startup")
	flag.DurationVar(&statusEvery, "status", 30*time.Second, "Status log interval (0 disables)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("sensortag-ng starting")
	log.Printf("notify dest=%s control listen=%s", cfg.Notify.Dest, cfg.Control.Listen)

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	if calibrate {
		go func() {
			cctx, ccancel := context.WithTimeout(ctx, time.Duration(cfg.IMU.CalibrationSeconds+5)*time.Second)
			defer ccancel()
			if err := rt.Calibrate(cctx); err != nil {
				log.Printf("calibration failed: %v", err)
				return
			}
			log.Printf("calibration done offsets=%v", rt.Snapshot().GyroOffsets)
		}()
	}

	if statusEvery > 0 {
		t := time.NewTicker(statusEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("sensortag-ng stopping")
				return
			case <-t.C:
				log.Print(formatSnapshot(rt.Snapshot()))
			}
		}
	}

	<-ctx.Done()
	log.Printf("sensortag-ng stopping")
}
