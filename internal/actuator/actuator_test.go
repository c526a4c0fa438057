package actuator

import (
	"errors"
	"testing"

	"sparky-ng/internal/attitude"
)

type fakeDriver struct {
	freq   int
	levels []int32
	closed bool
	err    error
}

func (d *fakeDriver) SetFrequencyHz(hz int) error {
	d.freq = hz
	return nil
}

func (d *fakeDriver) SetLevel(level int32) error {
	if d.err != nil {
		return d.err
	}
	d.levels = append(d.levels, level)
	return nil
}

func (d *fakeDriver) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDriver) last() int32 {
	if len(d.levels) == 0 {
		return -1
	}
	return d.levels[len(d.levels)-1]
}

func withFakeGPIO(t *testing.T) map[int]*fakeDriver {
	t.Helper()
	fakes := map[int]*fakeDriver{}
	old := openGPIOFn
	openGPIOFn = func(pin int) (driver, error) {
		d := &fakeDriver{}
		fakes[pin] = d
		return d, nil
	}
	t.Cleanup(func() { openGPIOFn = old })
	return fakes
}

func TestOpen_ClaimsChannelsIdle(t *testing.T) {
	fakes := withFakeGPIO(t)
	out, err := Open(Config{Backend: "gpiod", Channels: []attitude.Channel{17, 27}, PWMFrequency: 500})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()

	if len(fakes) != 2 {
		t.Fatalf("opened=%d want 2", len(fakes))
	}
	for pin, d := range fakes {
		if d.last() != 0 {
			t.Fatalf("pin %d level=%d want 0", pin, d.last())
		}
		if d.freq != 500 {
			t.Fatalf("pin %d freq=%d want 500", pin, d.freq)
		}
	}
	chs := out.Channels()
	if len(chs) != 2 || chs[0] != 17 || chs[1] != 27 {
		t.Fatalf("channels=%v want [17 27]", chs)
	}
}

func TestOpen_RejectsRepeatedChannel(t *testing.T) {
	fakes := withFakeGPIO(t)
	if _, err := Open(Config{Backend: "gpiod", Channels: []attitude.Channel{17, 27, 17}}); err == nil {
		t.Fatalf("expected error for a channel listed twice")
	}
	for pin, d := range fakes {
		if !d.closed {
			t.Fatalf("pin %d not released", pin)
		}
	}
}

func TestOutput_SetClampsAndTracks(t *testing.T) {
	fakes := withFakeGPIO(t)
	out, err := Open(Config{Backend: "gpiod", Channels: []attitude.Channel{5}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := out.Set(5, 999); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if fakes[5].last() != attitude.MaxActuation || out.Level(5) != attitude.MaxActuation {
		t.Fatalf("level=%d want %d", fakes[5].last(), attitude.MaxActuation)
	}
	if err := out.Set(5, -4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if out.Level(5) != 0 {
		t.Fatalf("level=%d want 0", out.Level(5))
	}
	if err := out.Set(6, 1); err == nil {
		t.Fatalf("expected error for unconfigured channel")
	}

	_ = out.Set(5, 100)
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fakes[5].closed || fakes[5].last() != 0 {
		t.Fatalf("closed=%v level=%d want closed and 0", fakes[5].closed, fakes[5].last())
	}
	if err := out.Set(5, 1); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestOutput_DriverErrorWrapped(t *testing.T) {
	fakes := withFakeGPIO(t)
	out, err := Open(Config{Backend: "gpiod", Channels: []attitude.Channel{4}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	boom := errors.New("line busy")
	fakes[4].err = boom
	if err := out.Set(4, 10); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

func TestOpen_FailureReleasesClaimed(t *testing.T) {
	var opened []*fakeDriver
	old := openGPIOFn
	openGPIOFn = func(pin int) (driver, error) {
		if pin == 99 {
			return nil, errors.New("no such line")
		}
		d := &fakeDriver{}
		opened = append(opened, d)
		return d, nil
	}
	t.Cleanup(func() { openGPIOFn = old })

	if _, err := Open(Config{Backend: "gpiod", Channels: []attitude.Channel{3, 99}}); err == nil {
		t.Fatalf("expected error")
	}
	if len(opened) != 1 || !opened[0].closed {
		t.Fatalf("expected the first channel to be released")
	}
}

type fakeBank struct {
	pins   map[int]*fakeDriver
	closed bool
}

func (b *fakeBank) Pin(bcm int) (driver, error) {
	d := &fakeDriver{}
	b.pins[bcm] = d
	return d, nil
}

func (b *fakeBank) Close() error {
	b.closed = true
	return nil
}

func TestOpen_AutoPicksBackend(t *testing.T) {
	bank := &fakeBank{pins: map[int]*fakeDriver{}}
	oldR, oldPi := openRPIOFn, isPi5Fn
	openRPIOFn = func() (pinBank, error) { return bank, nil }
	t.Cleanup(func() { openRPIOFn, isPi5Fn = oldR, oldPi })
	gpio := withFakeGPIO(t)

	isPi5Fn = func() bool { return false }
	out, err := Open(Config{Backend: "auto", Channels: []attitude.Channel{18}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Backend() != "rpio" || bank.pins[18] == nil {
		t.Fatalf("backend=%s want rpio", out.Backend())
	}
	_ = out.Close()
	if !bank.closed {
		t.Fatalf("expected rpio bank released on Close")
	}

	isPi5Fn = func() bool { return true }
	out, err = Open(Config{Backend: "auto", Channels: []attitude.Channel{18}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()
	if out.Backend() != "gpiod" || gpio[18] == nil {
		t.Fatalf("backend=%s want gpiod", out.Backend())
	}
}

func TestOpen_NoneAndUnknown(t *testing.T) {
	out, err := Open(Config{Channels: []attitude.Channel{1, 2}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if out.Backend() != "none" {
		t.Fatalf("backend=%s want none", out.Backend())
	}
	if err := out.Set(2, 77); err != nil || out.Level(2) != 77 {
		t.Fatalf("Set err=%v level=%d", err, out.Level(2))
	}
	_ = out.Close()

	if _, err := Open(Config{Backend: "servo"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestOutput_DrivesController(t *testing.T) {
	out, err := Open(Config{Channels: []attitude.Channel{20, 21}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()

	c := attitude.New(attitude.Config{Output: out, Clock: func() uint32 { return 5000 }})
	c.SetActuatorPins(attitude.Yaw, 20, 21)
	c.SetGains(attitude.Yaw, 2, 0, 0)
	c.Enable()
	c.SetDesiredState(0, 0, -300)
	c.UpdateState(0, 0, 0, 0)
	c.UpdateErrors()
	if err := c.UpdateActuators(); err != nil {
		t.Fatalf("UpdateActuators: %v", err)
	}
	if out.Level(20) != 0 || out.Level(21) != 150 {
		t.Fatalf("plus=%d minus=%d want 0,150", out.Level(20), out.Level(21))
	}
	if err := c.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if out.Level(21) != 0 {
		t.Fatalf("minus=%d want 0 after Disable", out.Level(21))
	}
}

func TestPWMChannel(t *testing.T) {
	for pin, want := range map[int]int{12: 0, 18: 0, 13: 1, 19: 1} {
		got, err := PWMChannel(pin)
		if err != nil || got != want {
			t.Fatalf("pin %d channel=%d err=%v want %d", pin, got, err, want)
		}
	}
	if _, err := PWMChannel(17); err == nil {
		t.Fatalf("expected error for gpio17")
	}
}

func TestDutyPercent(t *testing.T) {
	if dutyPercent(0) != 0 || dutyPercent(-3) != 0 || dutyPercent(attitude.MaxActuation) != 100 || dutyPercent(1000) != 100 {
		t.Fatalf("dutyPercent endpoints wrong")
	}
	if d := dutyPercent(51); d != 20 {
		t.Fatalf("dutyPercent(51)=%v want 20", d)
	}
}
