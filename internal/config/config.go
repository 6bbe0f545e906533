package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	IMU     IMUConfig     `yaml:"imu"`
	LEDs    LEDConfig     `yaml:"leds"`
	Notify  NotifyConfig  `yaml:"notify"`
	Control ControlConfig `yaml:"control"`
}

type IMUConfig struct {
	Enable  bool   `yaml:"enable"`
	I2CBus  int    `yaml:"i2c_bus"`
	Address uint16 `yaml:"address"`

	// Interrupt selects data-ready sampling; false polls on every read-out.
	Interrupt     bool   `yaml:"interrupt"`
	InterruptHz   int    `yaml:"interrupt_hz"`
	PollHz        int    `yaml:"poll_hz"`
	InterruptChip string `yaml:"interrupt_chip"`
	InterruptLine int    `yaml:"interrupt_line"`

	SwapAxes           bool `yaml:"swap_axes"`
	CalibrationSeconds int  `yaml:"calibration_seconds"`
	RangeErrorLED      bool `yaml:"range_error_led"`
	AngularErrorLED    bool `yaml:"angular_error_led"`
}

// LEDConfig holds GPIO line offsets; -1 leaves an LED unwired.
type LEDConfig struct {
	Chip             string `yaml:"chip"`
	CalibrationLine  int    `yaml:"calibration_line"`
	AccelErrorLine   int    `yaml:"accel_error_line"`
	GyroErrorLine    int    `yaml:"gyro_error_line"`
	AngularErrorLine int    `yaml:"angular_error_line"`
}

// Any reports whether at least one LED is wired.
func (c LEDConfig) Any() bool {
	return c.CalibrationLine >= 0 || c.AccelErrorLine >= 0 || c.GyroErrorLine >= 0 || c.AngularErrorLine >= 0
}

type NotifyConfig struct {
	Dest               string        `yaml:"dest"`
	AccelerationPeriod time.Duration `yaml:"acceleration_period"`
	OrientationPeriod  time.Duration `yaml:"orientation_period"`
}

type ControlConfig struct {
	Listen string `yaml:"listen"`
}

// Default is the configuration of a stock tag. Load starts from it, so keys
// missing from the file keep these values.
func Default() Config {
	return Config{
		IMU: IMUConfig{
			Enable:             true,
			I2CBus:             1,
			Address:            0x68,
			Interrupt:          true,
			InterruptHz:        200,
			PollHz:             1,
			InterruptChip:      "gpiochip0",
			InterruptLine:      -1,
			SwapAxes:           true,
			CalibrationSeconds: 4,
		},
		LEDs: LEDConfig{
			Chip:             "gpiochip0",
			CalibrationLine:  -1,
			AccelErrorLine:   -1,
			GyroErrorLine:    -1,
			AngularErrorLine: -1,
		},
		Notify: NotifyConfig{
			AccelerationPeriod: 200 * time.Millisecond,
			OrientationPeriod:  200 * time.Millisecond,
		},
		Control: ControlConfig{Listen: ":4520"},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Notify.Dest == "" {
		return fmt.Errorf("notify.dest is required")
	}
	if c.Notify.AccelerationPeriod <= 0 {
		return fmt.Errorf("notify.acceleration_period must be > 0")
	}
	if c.Notify.OrientationPeriod <= 0 {
		return fmt.Errorf("notify.orientation_period must be > 0")
	}
	if c.Control.Listen == "" {
		return fmt.Errorf("control.listen is required")
	}

	if !c.IMU.Enable {
		return nil
	}
	if c.IMU.I2CBus < 0 {
		return fmt.Errorf("imu.i2c_bus must be >= 0")
	}
	if c.IMU.Address == 0 || c.IMU.Address > 0x7F {
		return fmt.Errorf("imu.address must be a 7-bit address")
	}
	if c.IMU.InterruptHz < 1 || c.IMU.InterruptHz > 1000 {
		return fmt.Errorf("imu.interrupt_hz must be in 1..1000")
	}
	if c.IMU.PollHz <= 0 || c.IMU.PollHz > 1000 {
		return fmt.Errorf("imu.poll_hz must be in 1..1000")
	}
	if c.IMU.CalibrationSeconds <= 0 {
		return fmt.Errorf("imu.calibration_seconds must be > 0")
	}
	if c.IMU.Interrupt && c.IMU.InterruptLine < 0 {
		return fmt.Errorf("imu.interrupt_line is required when imu.interrupt is true")
	}
	return nil
}
