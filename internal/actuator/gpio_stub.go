//go:build !linux || (!arm && !arm64)

package actuator

import "fmt"

func openGPIO(pin int) (driver, error) {
	return nil, fmt.Errorf("actuator: gpio unsupported on this platform")
}

func openSysfsPWM(pin int) (driver, error) {
	return nil, fmt.Errorf("actuator: sysfs pwm unsupported on this platform")
}
