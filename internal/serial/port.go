// Package serial provides raw byte sources for the attitude sensor: a
// termios-configured tty, a tarm/serial port pumped into a Buffer, and the
// Buffer itself for replayed captures.
package serial

import (
	"fmt"
	"io"
	"strings"
)

// Source is a byte stream that can report how much it has buffered.
type Source interface {
	io.Reader
	Buffered() (int, error)
}

// Port is an open serial line that can report its receive backlog.
type Port interface {
	Source
	io.Writer
	io.Closer
}

type Config struct {
	Device string
	Baud   int
	// Backend is "termios" (default) or "tarm".
	Backend string
}

var (
	openTermiosFn = openTermios
	openTarmFn    = openTarm
)

func Open(cfg Config) (Port, error) {
	if strings.TrimSpace(cfg.Device) == "" {
		return nil, fmt.Errorf("serial: device is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "termios":
		return openTermiosFn(cfg.Device, cfg.Baud)
	case "tarm":
		return openTarmFn(cfg.Device, cfg.Baud)
	default:
		return nil, fmt.Errorf("serial: unknown backend %q", cfg.Backend)
	}
}
