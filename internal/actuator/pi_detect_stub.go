//go:build !linux

package actuator

func isRaspberryPi5() bool { return false }
