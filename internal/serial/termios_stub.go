//go:build !linux

package serial

import "fmt"

func openTermios(path string, baud int) (Port, error) {
	return nil, fmt.Errorf("serial: termios backend not supported on this platform")
}
