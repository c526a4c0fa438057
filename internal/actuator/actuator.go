// Package actuator drives the reaction motor channels picked by the attitude
// controller.
//
// Each channel is a BCM GPIO number. Backends:
//   - gpiod: digital on/off through the GPIO character device
//   - sysfs: hardware PWM through /sys/class/pwm (GPIO12/13/18/19)
//   - rpio:  memory-mapped GPIO with PWM on capable pins, digital elsewhere
//   - auto:  gpiod on a Pi 5 (rpio cannot map its GPIO block), rpio otherwise
//   - none:  records levels only
package actuator

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"sparky-ng/internal/attitude"
)

// driver is the minimal interface the Output needs from one channel backend.
//
// level is 0..attitude.MaxActuation. Digital drivers map any level > 0 to
// on. Close should be best-effort and leave the line inactive.
type driver interface {
	SetFrequencyHz(hz int) error
	SetLevel(level int32) error
	Close() error
}

// pinBank hands out drivers for pins of a shared memory-mapped GPIO block.
type pinBank interface {
	Pin(bcm int) (driver, error)
	Close() error
}

var (
	openGPIOFn  = openGPIO
	openSysfsFn = openSysfsPWM
	openRPIOFn  = openRPIO
	isPi5Fn     = isRaspberryPi5
)

type Config struct {
	Backend  string
	Channels []attitude.Channel
	// PWMFrequency is the output frequency in Hz for proportional backends.
	PWMFrequency int
}

// Output implements attitude.Output over a set of opened channels.
type Output struct {
	backend string

	mu      sync.Mutex
	drivers map[attitude.Channel]driver
	levels  map[attitude.Channel]int32
	release func() error
	closed  bool
}

// Open claims every configured channel, drives it low and returns the
// Output. On failure, channels claimed so far are released.
func Open(cfg Config) (*Output, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "none"
	}
	if backend == "auto" {
		backend = "rpio"
		if isPi5Fn() {
			backend = "gpiod"
		}
	}
	if cfg.PWMFrequency <= 0 {
		cfg.PWMFrequency = 1000
	}

	o := &Output{
		backend: backend,
		drivers: make(map[attitude.Channel]driver, len(cfg.Channels)),
		levels:  make(map[attitude.Channel]int32, len(cfg.Channels)),
	}

	var open func(ch attitude.Channel) (driver, error)
	switch backend {
	case "none":
		open = func(attitude.Channel) (driver, error) { return memDriver{}, nil }
	case "gpiod":
		open = func(ch attitude.Channel) (driver, error) { return openGPIOFn(int(ch)) }
	case "sysfs":
		open = func(ch attitude.Channel) (driver, error) { return openSysfsFn(int(ch)) }
	case "rpio":
		chip, err := openRPIOFn()
		if err != nil {
			return nil, err
		}
		o.release = chip.Close
		open = func(ch attitude.Channel) (driver, error) { return chip.Pin(int(ch)) }
	default:
		return nil, fmt.Errorf("actuator: unknown backend %q", cfg.Backend)
	}

	for _, ch := range cfg.Channels {
		if _, dup := o.drivers[ch]; dup {
			_ = o.Close()
			return nil, fmt.Errorf("actuator: channel %d listed twice", ch)
		}
		d, err := open(ch)
		if err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("actuator: open channel %d: %w", ch, err)
		}
		o.drivers[ch] = d
		if err := d.SetFrequencyHz(cfg.PWMFrequency); err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("actuator: channel %d frequency: %w", ch, err)
		}
		if err := d.SetLevel(0); err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("actuator: channel %d idle: %w", ch, err)
		}
		o.levels[ch] = 0
	}
	log.Printf("actuator: backend=%s channels=%v", backend, o.Channels())
	return o, nil
}

func (o *Output) Backend() string { return o.backend }

// Set implements attitude.Output.
func (o *Output) Set(ch attitude.Channel, magnitude int32) error {
	if magnitude < 0 {
		magnitude = 0
	} else if magnitude > attitude.MaxActuation {
		magnitude = attitude.MaxActuation
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("actuator: output closed")
	}
	d, ok := o.drivers[ch]
	if !ok {
		return fmt.Errorf("actuator: channel %d not configured", ch)
	}
	if err := d.SetLevel(magnitude); err != nil {
		return fmt.Errorf("actuator: channel %d: %w", ch, err)
	}
	o.levels[ch] = magnitude
	return nil
}

// Level returns the last level written to ch.
func (o *Output) Level(ch attitude.Channel) int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.levels[ch]
}

func (o *Output) Channels() []attitude.Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]attitude.Channel, 0, len(o.drivers))
	for ch := range o.drivers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close drives every channel low and releases it.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	var errs []error
	for ch, d := range o.drivers {
		_ = d.SetLevel(0)
		o.levels[ch] = 0
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("actuator: close channel %d: %w", ch, err))
		}
	}
	if o.release != nil {
		if err := o.release(); err != nil {
			errs = append(errs, fmt.Errorf("actuator: release: %w", err))
		}
	}
	return errors.Join(errs...)
}

type memDriver struct{}

func (memDriver) SetFrequencyHz(int) error { return nil }
func (memDriver) SetLevel(int32) error     { return nil }
func (memDriver) Close() error             { return nil }

// PWMChannel returns the hardware PWM channel a BCM pin can be routed to on
// a Raspberry Pi. GPIO12 and GPIO18 share channel 0, GPIO13 and GPIO19
// share channel 1.
func PWMChannel(pin int) (int, error) {
	switch pin {
	case 12, 18:
		return 0, nil
	case 13, 19:
		return 1, nil
	default:
		return 0, fmt.Errorf("actuator: gpio %d has no hardware pwm", pin)
	}
}

// dutyPercent maps a level onto 0..100.
func dutyPercent(level int32) float64 {
	if level <= 0 {
		return 0
	}
	if level >= attitude.MaxActuation {
		return 100
	}
	return float64(level) * 100 / attitude.MaxActuation
}
