package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ThermalZonePath is where the flight computer reports its SoC temperature.
const ThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// parseThermalZone accepts millidegrees (the usual Linux format) or whole
// degrees Celsius.
func parseThermalZone(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("telemetry: board temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("telemetry: parse board temp %q: %w", s, err)
	}
	if n > 1000 || n < -1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

// ReadBoardTempC reads a thermal zone file in degrees Celsius.
func ReadBoardTempC(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("telemetry: read board temp: %w", err)
	}
	return parseThermalZone(string(b))
}
