//go:build linux

package actuator

import (
	"os"
	"strings"
)

var piModelPaths = []string{
	"/sys/firmware/devicetree/base/model",
	"/proc/device-tree/model",
}

func isRaspberryPi5() bool {
	for _, p := range piModelPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if strings.Contains(model, "Raspberry Pi 5") {
			return true
		}
	}
	return false
}
