//go:build linux && (arm || arm64)

package actuator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindPWMChip_AcceptsSymlinkedPWMChip(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "pwm")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	realChip := filepath.Join(dir, "realchip0")
	if err := os.MkdirAll(realChip, 0o755); err != nil {
		t.Fatalf("MkdirAll realChip: %v", err)
	}
	if err := os.WriteFile(filepath.Join(realChip, "npwm"), []byte("2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile npwm: %v", err)
	}
	link := filepath.Join(base, "pwmchip0")
	if err := os.Symlink(realChip, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	old := pwmSysfsBase
	pwmSysfsBase = base
	t.Cleanup(func() { pwmSysfsBase = old })

	chipPath, err := findPWMChip(1)
	if err != nil {
		t.Fatalf("findPWMChip: %v", err)
	}
	if chipPath != link {
		t.Fatalf("chipPath=%q want %q", chipPath, link)
	}
	if _, err := findPWMChip(2); err == nil {
		t.Fatalf("expected error for channel beyond npwm")
	}
}

func TestSysfsPWM_LevelToDutyCycle(t *testing.T) {
	dir := t.TempDir()
	pwmPath := filepath.Join(dir, "pwm0")
	if err := os.MkdirAll(pwmPath, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"enable", "period", "duty_cycle"} {
		if err := os.WriteFile(filepath.Join(pwmPath, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}

	d := &sysfsPWM{chipPath: dir, pwmPath: pwmPath}
	if err := d.SetFrequencyHz(1000); err != nil {
		t.Fatalf("SetFrequencyHz: %v", err)
	}
	if err := d.SetLevel(255); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(pwmPath, "duty_cycle"))
	// Files are not truncated on write, so compare the prefix.
	if !strings.HasPrefix(string(b), "1000000") {
		t.Fatalf("duty_cycle=%q want 1000000", b)
	}
}
