package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"sparky-ng/internal/actuator"
)

type Config struct {
	Razor     RazorConfig     `yaml:"razor" toml:"razor"`
	Control   ControlConfig   `yaml:"control" toml:"control"`
	Actuator  ActuatorConfig  `yaml:"actuator" toml:"actuator"`
	Datalog   DatalogConfig   `yaml:"datalog" toml:"datalog"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Command   CommandConfig   `yaml:"command" toml:"command"`
	Web       WebConfig       `yaml:"web" toml:"web"`
}

type RazorConfig struct {
	Device  string `yaml:"device" toml:"device"`
	Baud    int    `yaml:"baud" toml:"baud"`
	Backend string `yaml:"backend" toml:"backend"`

	// ReplayPath feeds a recorded capture to the decoder instead of the
	// serial device.
	ReplayPath  string  `yaml:"replay_path" toml:"replay_path"`
	ReplaySpeed float64 `yaml:"replay_speed" toml:"replay_speed"`
	ReplayLoop  bool    `yaml:"replay_loop" toml:"replay_loop"`

	// RecordPath captures every byte read from the device.
	RecordPath string `yaml:"record_path" toml:"record_path"`

	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
}

type ControlConfig struct {
	MinUpdateInterval Duration   `yaml:"min_update_interval" toml:"min_update_interval"`
	Combiner          string     `yaml:"combiner" toml:"combiner"`
	Pacing            string     `yaml:"pacing" toml:"pacing"`
	EnableOnStart     bool       `yaml:"enable_on_start" toml:"enable_on_start"`
	Desired           Angles     `yaml:"desired" toml:"desired"`
	Axes              AxesConfig `yaml:"axes" toml:"axes"`
}

// Angles are hundredths of a degree.
type Angles struct {
	Pitch int32 `yaml:"pitch" toml:"pitch"`
	Roll  int32 `yaml:"roll" toml:"roll"`
	Yaw   int32 `yaml:"yaw" toml:"yaw"`
}

type AxesConfig struct {
	Pitch AxisConfig `yaml:"pitch" toml:"pitch"`
	Roll  AxisConfig `yaml:"roll" toml:"roll"`
	Yaw   AxisConfig `yaml:"yaw" toml:"yaw"`
}

// AxisConfig sets gains, dead band and output pins for one axis. An axis
// with both pins zero is not driven.
type AxisConfig struct {
	P         int32 `yaml:"p" toml:"p"`
	I         int32 `yaml:"i" toml:"i"`
	D         int32 `yaml:"d" toml:"d"`
	Threshold int32 `yaml:"threshold" toml:"threshold"`
	Plus      int   `yaml:"plus" toml:"plus"`
	Minus     int   `yaml:"minus" toml:"minus"`
}

// Configured reports whether the axis has output pins.
func (a AxisConfig) Configured() bool { return a.Plus != 0 || a.Minus != 0 }

type ActuatorConfig struct {
	Backend      string `yaml:"backend" toml:"backend"`
	PWMFrequency int    `yaml:"pwm_frequency" toml:"pwm_frequency"`
}

type DatalogConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Dir    string `yaml:"dir" toml:"dir"`
	Format string `yaml:"format" toml:"format"`
}

type TelemetryConfig struct {
	Dest     string   `yaml:"dest" toml:"dest"`
	Interval Duration `yaml:"interval" toml:"interval"`
}

type CommandConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

type WebConfig struct {
	Listen string `yaml:"listen" toml:"listen"`
}

// Load reads a YAML file, or TOML when the name ends in .toml, and applies
// defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return Config{}, err
		}
	} else {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var supportedBauds = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true, 19200: true,
	38400: true, 57600: true, 115200: true, 230400: true,
}

// DefaultAndValidate fills unset fields and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	r := &cfg.Razor
	r.Backend = strings.ToLower(strings.TrimSpace(r.Backend))
	if r.Backend == "" {
		r.Backend = "termios"
	}
	if r.Backend != "termios" && r.Backend != "tarm" {
		return fmt.Errorf("razor.backend must be termios or tarm")
	}
	if r.Baud == 0 {
		r.Baud = 57600
	}
	if !supportedBauds[r.Baud] {
		return fmt.Errorf("razor.baud %d is not supported", r.Baud)
	}
	if r.Device == "" && r.ReplayPath == "" {
		return fmt.Errorf("razor.device is required unless razor.replay_path is set")
	}
	if r.ReplayPath != "" {
		if r.ReplaySpeed == 0 {
			r.ReplaySpeed = 1
		}
		if r.ReplaySpeed < 0 {
			return fmt.Errorf("razor.replay_speed must be > 0")
		}
		if r.RecordPath != "" {
			return fmt.Errorf("razor.record_path and razor.replay_path cannot both be set")
		}
	}
	if r.PollInterval <= 0 {
		r.PollInterval = Duration(10 * time.Millisecond)
	}

	c := &cfg.Control
	if c.MinUpdateInterval < 0 {
		return fmt.Errorf("control.min_update_interval must be >= 0")
	}
	if c.MinUpdateInterval == 0 {
		c.MinUpdateInterval = Duration(time.Second)
	}
	c.Combiner = strings.ToLower(strings.TrimSpace(c.Combiner))
	if c.Combiner == "" {
		c.Combiner = "inverse"
	}
	if c.Combiner != "inverse" && c.Combiner != "multiply" {
		return fmt.Errorf("control.combiner must be inverse or multiply")
	}
	c.Pacing = strings.ToLower(strings.TrimSpace(c.Pacing))
	if c.Pacing == "" {
		c.Pacing = "external"
	}
	if c.Pacing != "external" && c.Pacing != "self" {
		return fmt.Errorf("control.pacing must be external or self")
	}
	axes := []struct {
		name string
		ax   AxisConfig
	}{{"pitch", c.Axes.Pitch}, {"roll", c.Axes.Roll}, {"yaw", c.Axes.Yaw}}
	for _, e := range axes {
		name, ax := e.name, e.ax
		if ax.Threshold < 0 {
			return fmt.Errorf("control.axes.%s.threshold must be >= 0", name)
		}
		if ax.Configured() && (ax.Plus <= 0 || ax.Minus <= 0 || ax.Plus == ax.Minus) {
			return fmt.Errorf("control.axes.%s needs two distinct positive pins", name)
		}
	}

	a := &cfg.Actuator
	a.Backend = strings.ToLower(strings.TrimSpace(a.Backend))
	if a.Backend == "" {
		a.Backend = "none"
	}
	switch a.Backend {
	case "none", "gpiod", "sysfs", "rpio", "auto":
	default:
		return fmt.Errorf("actuator.backend must be one of none, gpiod, sysfs, rpio, auto")
	}
	if a.PWMFrequency < 0 {
		return fmt.Errorf("actuator.pwm_frequency must be > 0")
	}
	if a.PWMFrequency == 0 {
		a.PWMFrequency = 1000
	}

	// A pin drives one channel of one axis. The PWM backends also route
	// GPIO12/18 and GPIO13/19 to the same hardware channel.
	sharesPWM := a.Backend == "rpio" || a.Backend == "sysfs" || a.Backend == "auto"
	pinOwner := map[int]string{}
	pwmOwner := map[int]string{}
	for _, e := range axes {
		if !e.ax.Configured() {
			continue
		}
		for _, p := range []struct {
			field string
			pin   int
		}{{"plus", e.ax.Plus}, {"minus", e.ax.Minus}} {
			ref := "control.axes." + e.name + "." + p.field
			if prev, ok := pinOwner[p.pin]; ok {
				return fmt.Errorf("%s pin %d is already used by %s", ref, p.pin, prev)
			}
			pinOwner[p.pin] = ref
			if !sharesPWM {
				continue
			}
			ch, err := actuator.PWMChannel(p.pin)
			if err != nil {
				continue
			}
			if prev, ok := pwmOwner[ch]; ok {
				return fmt.Errorf("%s pin %d shares pwm channel %d with %s", ref, p.pin, ch, prev)
			}
			pwmOwner[ch] = ref
		}
	}

	d := &cfg.Datalog
	d.Format = strings.ToLower(strings.TrimSpace(d.Format))
	if d.Format == "" {
		d.Format = "csv"
	}
	if d.Format != "csv" && d.Format != "sqlite" {
		return fmt.Errorf("datalog.format must be csv or sqlite")
	}
	if d.Enable && d.Dir == "" {
		d.Dir = "."
	}

	if cfg.Telemetry.Interval < 0 {
		return fmt.Errorf("telemetry.interval must be > 0")
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = Duration(5 * time.Second)
	}
	return nil
}
