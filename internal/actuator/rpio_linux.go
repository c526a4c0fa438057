//go:build linux

package actuator

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"sparky-ng/internal/attitude"
)

// rpioBank maps the Broadcom GPIO block once and hands out pins. Pins with a
// hardware PWM function get proportional output, the rest are digital.
type rpioBank struct{}

func openRPIO() (pinBank, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("actuator: rpio open: %w", err)
	}
	return rpioBank{}, nil
}

func (rpioBank) Pin(bcm int) (driver, error) {
	if bcm <= 0 || bcm > 27 {
		return nil, fmt.Errorf("actuator: invalid gpio pin %d", bcm)
	}
	p := rpio.Pin(bcm)
	if _, err := PWMChannel(bcm); err == nil {
		p.Mode(rpio.Pwm)
		return &rpioPWM{pin: p}, nil
	}
	p.Output()
	p.Low()
	return &rpioDigital{pin: p}, nil
}

func (rpioBank) Close() error { return rpio.Close() }

// One PWM cycle spans MaxActuation clock ticks, so a level maps directly onto
// the duty length.
const rpioCycleLen = attitude.MaxActuation

type rpioPWM struct {
	pin rpio.Pin
}

func (r *rpioPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	// Output frequency is the PWM clock divided by the cycle length.
	r.pin.Freq(hz * rpioCycleLen)
	return nil
}

func (r *rpioPWM) SetLevel(level int32) error {
	if level < 0 {
		level = 0
	}
	r.pin.DutyCycle(uint32(level), rpioCycleLen)
	return nil
}

func (r *rpioPWM) Close() error {
	r.pin.DutyCycle(0, rpioCycleLen)
	return nil
}

type rpioDigital struct {
	pin rpio.Pin
}

func (r *rpioDigital) SetFrequencyHz(int) error { return nil }

func (r *rpioDigital) SetLevel(level int32) error {
	if level > 0 {
		r.pin.High()
	} else {
		r.pin.Low()
	}
	return nil
}

func (r *rpioDigital) Close() error {
	r.pin.Low()
	return nil
}
