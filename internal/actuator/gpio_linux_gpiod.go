//go:build linux && (arm || arm64)

package actuator

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/warthog618/go-gpiocdev"
)

const gpioConsumer = "sparky-ng"

// gpioLineName is the header name the Pi kernels give a BCM pin. The chip
// holding it differs between models (gpiochip0, gpiochip4 on early Pi 5
// kernels), so lines are looked up by name across all chips.
func gpioLineName(pin int) string {
	return "GPIO" + strconv.Itoa(pin)
}

// openGPIO claims pin as a digital output, initially low.
func openGPIO(pin int) (driver, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("actuator: invalid gpio pin %d", pin)
	}
	name := gpioLineName(pin)
	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		if errors.Is(err, gpiocdev.ErrNotFound) {
			return nil, fmt.Errorf("actuator: gpio line %s not found", name)
		}
		return nil, fmt.Errorf("actuator: find %s: %w", name, err)
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0), gpiocdev.WithConsumer(gpioConsumer))
	if err != nil {
		return nil, fmt.Errorf("actuator: request %s on %s: %w", name, chip, err)
	}
	return &digitalLine{line: line}, nil
}

// digitalLine is an on/off channel: any level above zero is high.
type digitalLine struct {
	line *gpiocdev.Line
}

func (d *digitalLine) SetFrequencyHz(int) error { return nil }

func (d *digitalLine) SetLevel(level int32) error {
	if d.line == nil {
		return errors.New("actuator: gpio line released")
	}
	if level > 0 {
		return d.line.SetValue(1)
	}
	return d.line.SetValue(0)
}

func (d *digitalLine) Close() error {
	if d.line == nil {
		return nil
	}
	_ = d.line.SetValue(0)
	err := d.line.Close()
	d.line = nil
	return err
}
