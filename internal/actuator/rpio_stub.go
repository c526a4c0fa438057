//go:build !linux

package actuator

import "fmt"

func openRPIO() (pinBank, error) {
	return nil, fmt.Errorf("actuator: rpio unsupported on this platform")
}
