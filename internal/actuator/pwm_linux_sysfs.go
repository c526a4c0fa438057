//go:build linux && (arm || arm64)

package actuator

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// sysfsPWM drives a hardware PWM channel via /sys/class/pwm.
//
// On Raspberry Pi the pwm-2chan overlay exposes PWM0 on GPIO12 or GPIO18 and
// PWM1 on GPIO13 or GPIO19.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	periodNS uint64
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

func openSysfsPWM(pin int) (driver, error) {
	channel, err := PWMChannel(pin)
	if err != nil {
		return nil, err
	}
	chipPath, err := findPWMChip(channel)
	if err != nil {
		return nil, err
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", channel)),
	}
	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	if err := d.writeBool("enable", false); err == nil {
		d.enabled = false
	}
	return d, nil
}

// findPWMChip returns the first pwmchip exposing at least channel+1 channels.
func findPWMChip(channel int) (string, error) {
	base := pwmSysfsBase
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("actuator: read %s: %w", base, err)
	}

	// pwmchipN entries are commonly symlinks, not directories.
	var candidates []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			candidates = append(candidates, e.Name())
		}
	}
	for _, name := range candidates {
		chip := filepath.Join(base, name)
		n, err := readInt(filepath.Join(chip, "npwm"))
		if err != nil || n <= channel {
			continue
		}
		return chip, nil
	}
	return "", fmt.Errorf("actuator: no sysfs pwmchip with channel %d (is the pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		// Already exported by someone else.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("actuator: export pwm: %w", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("actuator: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) Close() error {
	_ = d.SetLevel(0)
	err := d.writeBool("enable", false)
	d.enabled = false
	return err
}

func (d *sysfsPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	periodNS := uint64(1_000_000_000 / hz)
	if periodNS == 0 {
		periodNS = 1
	}

	// Period can only change while the channel is disabled.
	_ = d.writeBool("enable", false)
	d.enabled = false

	// duty_cycle may not exceed period, so zero it first.
	_ = d.writeUint("duty_cycle", 0)
	if err := d.writeUint("period", periodNS); err != nil {
		return err
	}
	d.periodNS = periodNS

	if err := d.writeBool("enable", true); err != nil {
		return err
	}
	d.enabled = true
	return nil
}

func (d *sysfsPWM) SetLevel(level int32) error {
	if d.periodNS == 0 {
		d.periodNS = 1_000_000_000 / 1000
	}

	duty := uint64(math.Round(float64(d.periodNS) * dutyPercent(level) / 100.0))
	if duty > d.periodNS {
		duty = d.periodNS
	}
	if err := d.writeUint("duty_cycle", duty); err != nil {
		return err
	}
	if !d.enabled {
		_ = d.writeBool("enable", true)
		d.enabled = true
	}
	return nil
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some sysfs attributes
// reject. Right after export, udev may still be fixing permissions, so
// EACCES/ENOENT are retried for a short while.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			lastErr = err
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		lastErr = errors.Join(werr, cerr)
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return lastErr
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
