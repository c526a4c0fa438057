package attitude

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) Millis() uint32 { return c.now }

type setCall struct {
	ch  Channel
	mag int32
}

type fakeOutput struct {
	levels map[Channel]int32
	calls  []setCall
	err    error
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{levels: map[Channel]int32{}}
}

func (o *fakeOutput) Set(ch Channel, mag int32) error {
	o.calls = append(o.calls, setCall{ch: ch, mag: mag})
	if o.err != nil {
		return o.err
	}
	o.levels[ch] = mag
	return nil
}

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeClock, *fakeOutput) {
	t.Helper()
	clk := &fakeClock{}
	out := newFakeOutput()
	cfg.Clock = clk.Millis
	cfg.Output = out
	c := New(cfg)
	c.SetActuatorPins(Pitch, 1, 2)
	c.SetActuatorPins(Roll, 3, 4)
	c.SetActuatorPins(Yaw, 5, 6)
	return c, clk, out
}

func TestUpdateState_Normalizes(t *testing.T) {
	c := New(Config{})
	c.UpdateState(18001, -18001, 36000, 10)
	s := c.Snapshot()
	if s.Axes[Pitch].Actual != -17999 || s.Axes[Roll].Actual != 17999 || s.Axes[Yaw].Actual != 0 {
		t.Fatalf("actual=%d,%d,%d want -17999,17999,0", s.Axes[Pitch].Actual, s.Axes[Roll].Actual, s.Axes[Yaw].Actual)
	}
	if s.SampleCount != 1 {
		t.Fatalf("sampleCount=%d want 1", s.SampleCount)
	}
}

func TestSetDesiredState_Normalizes(t *testing.T) {
	c := New(Config{})
	c.SetDesiredState(54000, -36001, 17999)
	p, r, y := c.DesiredState()
	if p != -18000 || r != -1 || y != 17999 {
		t.Fatalf("desired=%d,%d,%d want -18000,-1,17999", p, r, y)
	}
	c.SetDesiredYaw(18500)
	p, r, y = c.DesiredState()
	if p != -18000 || r != -1 || y != -17500 {
		t.Fatalf("desired=%d,%d,%d want -18000,-1,-17500", p, r, y)
	}
}

func TestUpdateErrors_AntiWindupWhileDisabled(t *testing.T) {
	c := New(Config{})
	c.SetDesiredState(9000, -9000, 4500)
	for i := 0; i < 20; i++ {
		c.UpdateState(0, 0, int32(i*100), uint32(i*50))
		c.UpdateErrors()
	}
	s := c.Snapshot()
	for _, a := range Axes {
		if s.Axes[a].Integral != 0 || s.Axes[a].Derivative != 0 {
			t.Fatalf("%s integral=%d derivative=%d want 0,0", a, s.Axes[a].Integral, s.Axes[a].Derivative)
		}
	}
	if s.Axes[Pitch].Error != 9000 {
		t.Fatalf("pitch error=%d want 9000", s.Axes[Pitch].Error)
	}
	// Proportional history keeps updating for monitoring.
	if s.Axes[Yaw].Error != 4500-1900 {
		t.Fatalf("yaw error=%d want %d", s.Axes[Yaw].Error, 4500-1900)
	}
}

func TestUpdateErrors_HistoryBounded(t *testing.T) {
	c := New(Config{})
	for i := 1; i <= 3*HistoryDepth; i++ {
		c.SetDesiredState(int32(i), 0, 0)
		c.UpdateState(0, 0, 0, uint32(i))
		c.UpdateErrors()
	}
	h := c.ErrorHistory(Pitch)
	if len(h) != HistoryDepth {
		t.Fatalf("len=%d want %d", len(h), HistoryDepth)
	}
	for i, v := range h {
		want := int64(3*HistoryDepth - i)
		if v != want {
			t.Fatalf("history[%d]=%d want %d (history=%v)", i, v, want, h)
		}
	}
	if s := c.Snapshot(); s.SampleCount != HistoryDepth {
		t.Fatalf("sampleCount=%d want %d", s.SampleCount, HistoryDepth)
	}
}

func TestUpdateErrors_IntegralAndDerivative(t *testing.T) {
	c := New(Config{})
	c.Enable()

	c.UpdateState(0, 0, 0, 1000)
	c.UpdateErrors()

	c.SetDesiredState(500, 0, 0)
	c.UpdateState(0, 0, 0, 1200)
	c.UpdateErrors()

	s := c.Snapshot()
	// 500 hundredths held for 200ms.
	if s.Axes[Pitch].Integral != 100 {
		t.Fatalf("integral=%d want 100", s.Axes[Pitch].Integral)
	}
	// 0 -> 500 over 0.2s.
	if s.Axes[Pitch].Derivative != 2500 {
		t.Fatalf("derivative=%d want 2500", s.Axes[Pitch].Derivative)
	}
	if s.Axes[Roll].Integral != 0 || s.Axes[Roll].Derivative != 0 {
		t.Fatalf("roll integral=%d derivative=%d want 0,0", s.Axes[Roll].Integral, s.Axes[Roll].Derivative)
	}
}

func TestUpdateErrors_LinearDerivative(t *testing.T) {
	c := New(Config{})
	c.Enable()
	for _, ts := range []uint32{0, 10, 20, 30} {
		c.SetDesiredState(int32(2*ts+5), 0, 0)
		c.UpdateState(0, 0, 0, ts)
		c.UpdateErrors()
	}
	if d := c.Snapshot().Axes[Pitch].Derivative; d != 2000 {
		t.Fatalf("derivative=%d want 2000", d)
	}
}

func TestGetActuation_Saturates(t *testing.T) {
	for _, comb := range []struct {
		name string
		c    Combiner
	}{
		{"inverse", InverseGains},
		{"multiply", MultiplyGains},
	} {
		t.Run(comb.name, func(t *testing.T) {
			c := New(Config{Combiner: comb.c})
			c.SetGains(Pitch, 1, 0, 0)
			c.SetGains(Roll, 1, 0, 0)
			c.SetDesiredState(5000, -5000, 0)
			c.UpdateState(0, 0, 0, 1)
			c.UpdateErrors()
			if got := c.GetActuation(Pitch); got != MaxActuation {
				t.Fatalf("pitch=%d want %d", got, MaxActuation)
			}
			if got := c.GetActuation(Roll); got != -MaxActuation {
				t.Fatalf("roll=%d want %d", got, -MaxActuation)
			}
			if got := c.GetActuation(Yaw); got != 0 {
				t.Fatalf("yaw=%d want 0", got)
			}
		})
	}
}

func TestGetActuation_InverseDividesByGain(t *testing.T) {
	c := New(Config{})
	c.SetGains(Pitch, 4, 0, 0)
	c.SetDesiredState(400, 0, 0)
	c.UpdateState(0, 0, 0, 1)
	c.UpdateErrors()
	if got := c.GetActuation(Pitch); got != 100 {
		t.Fatalf("actuation=%d want 100", got)
	}

	c.SetCombiner(MultiplyGains)
	c.SetGains(Pitch, 0, 0, 0)
	if got := c.GetActuation(Pitch); got != 0 {
		t.Fatalf("multiply with zero gains=%d want 0", got)
	}
}

func TestGetActuation_UnknownAxis(t *testing.T) {
	c := New(Config{})
	if got := c.GetActuation(Axis(9)); got != 0 {
		t.Fatalf("actuation=%d want 0", got)
	}
	c.SetGains(Axis(9), 1, 1, 1)
	c.SetActuatorPins(Axis(9), 1, 2)
}

func TestUpdateActuators_ThresholdInclusive(t *testing.T) {
	c, clk, out := newTestController(t, Config{MinUpdateInterval: time.Second})
	c.SetGains(Pitch, 1, 0, 0)
	c.SetGains(Roll, 1, 0, 0)
	c.SetActuationThreshold(100, Pitch)
	c.SetActuationThreshold(101, Roll)
	c.Enable()

	c.SetDesiredState(100, -100, 0)
	c.UpdateState(0, 0, 0, 0)
	c.UpdateErrors()

	clk.now = 5000
	if err := c.UpdateActuators(); err != nil {
		t.Fatalf("UpdateActuators: %v", err)
	}
	if out.levels[1] != 100 || out.levels[2] != 0 {
		t.Fatalf("pitch plus=%d minus=%d want 100,0", out.levels[1], out.levels[2])
	}
	if out.levels[3] != 0 || out.levels[4] != 0 {
		t.Fatalf("roll plus=%d minus=%d want 0,0", out.levels[3], out.levels[4])
	}

	c.SetActuationThreshold(100, Roll)
	if err := c.UpdateActuators(); err != nil {
		t.Fatalf("UpdateActuators: %v", err)
	}
	if out.levels[3] != 0 || out.levels[4] != 100 {
		t.Fatalf("roll plus=%d minus=%d want 0,100", out.levels[3], out.levels[4])
	}
}

func TestUpdateActuators_DisabledIsNoop(t *testing.T) {
	c, clk, out := newTestController(t, Config{})
	c.SetGains(Pitch, 1, 0, 0)
	c.SetDesiredState(1000, 0, 0)
	c.UpdateState(0, 0, 0, 0)
	c.UpdateErrors()
	clk.now = 10000
	if err := c.UpdateActuators(); err != nil {
		t.Fatalf("UpdateActuators: %v", err)
	}
	if len(out.calls) != 0 {
		t.Fatalf("calls=%v want none", out.calls)
	}
}

func TestUpdateActuators_ExternalPacing(t *testing.T) {
	c, clk, out := newTestController(t, Config{MinUpdateInterval: time.Second})
	c.SetGains(Pitch, 1, 0, 0)
	c.Enable()
	c.SetDesiredState(50, 0, 0)
	c.UpdateState(0, 0, 0, 0)
	c.UpdateErrors()

	clk.now = 1000
	_ = c.UpdateActuators()
	if len(out.calls) != 0 {
		t.Fatalf("calls=%d want 0 at exactly the interval", len(out.calls))
	}

	clk.now = 1001
	_ = c.UpdateActuators()
	first := len(out.calls)
	if first == 0 {
		t.Fatalf("expected actuator writes after the interval")
	}
	_ = c.UpdateActuators()
	if len(out.calls) != 2*first {
		t.Fatalf("calls=%d want %d; external pacing must not move the gate", len(out.calls), 2*first)
	}

	c.MarkActuated(1001)
	_ = c.UpdateActuators()
	if len(out.calls) != 2*first {
		t.Fatalf("calls=%d want %d after MarkActuated", len(out.calls), 2*first)
	}
	if s := c.Snapshot(); s.LastActuationTime != 1001 {
		t.Fatalf("lastActuationTime=%d want 1001", s.LastActuationTime)
	}
}

func TestUpdateActuators_SelfPacing(t *testing.T) {
	c, clk, out := newTestController(t, Config{MinUpdateInterval: time.Second, Pacing: PacingSelf})
	c.SetGains(Pitch, 1, 0, 0)
	c.Enable()
	c.SetDesiredState(50, 0, 0)
	c.UpdateState(0, 0, 0, 0)
	c.UpdateErrors()

	clk.now = 1500
	_ = c.UpdateActuators()
	first := len(out.calls)
	if first == 0 {
		t.Fatalf("expected actuator writes")
	}

	clk.now = 2000
	_ = c.UpdateActuators()
	if len(out.calls) != first {
		t.Fatalf("calls=%d want %d inside the interval", len(out.calls), first)
	}

	clk.now = 2501
	_ = c.UpdateActuators()
	if len(out.calls) != 2*first {
		t.Fatalf("calls=%d want %d", len(out.calls), 2*first)
	}
}

func TestUpdateActuators_UnconfiguredAxisSkipped(t *testing.T) {
	clk := &fakeClock{now: 5000}
	out := newFakeOutput()
	c := New(Config{Output: out, Clock: clk.Millis})
	c.SetActuatorPins(Yaw, 7, 8)
	c.Enable()
	if err := c.UpdateActuators(); err != nil {
		t.Fatalf("UpdateActuators: %v", err)
	}
	for _, call := range out.calls {
		if call.ch != 7 && call.ch != 8 {
			t.Fatalf("unexpected write to channel %d", call.ch)
		}
	}
}

func TestUpdateActuators_JoinsOutputErrors(t *testing.T) {
	c, clk, out := newTestController(t, Config{})
	out.err = errors.New("line busy")
	c.Enable()
	clk.now = 10
	err := c.UpdateActuators()
	if err == nil || !errors.Is(err, out.err) {
		t.Fatalf("err=%v want wrapped %v", err, out.err)
	}
}

func TestDisable_ZeroesTermsAndChannels(t *testing.T) {
	c, clk, out := newTestController(t, Config{})
	c.SetGains(Pitch, 1, 1, 1)
	c.SetGains(Yaw, 1, 1, 1)
	c.Enable()

	c.SetDesiredState(200, 0, -300)
	for i := uint32(0); i < 5; i++ {
		c.UpdateState(0, 0, int32(i), i*100)
		c.UpdateErrors()
	}
	clk.now = 10000
	if err := c.UpdateActuators(); err != nil {
		t.Fatalf("UpdateActuators: %v", err)
	}
	if out.levels[1] == 0 {
		t.Fatalf("expected pitch plus driven before disable")
	}
	if s := c.Snapshot(); s.Axes[Pitch].Integral == 0 {
		t.Fatalf("expected integral to accumulate while enabled")
	}

	if err := c.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	for ch, lvl := range out.levels {
		if lvl != 0 {
			t.Fatalf("channel %d=%d want 0 after disable", ch, lvl)
		}
	}
	s := c.Snapshot()
	if s.Enabled {
		t.Fatalf("enabled after Disable")
	}
	for _, a := range Axes {
		if s.Axes[a].Integral != 0 || s.Axes[a].Derivative != 0 {
			t.Fatalf("%s integral=%d derivative=%d want 0,0", a, s.Axes[a].Integral, s.Axes[a].Derivative)
		}
	}
	if s.Axes[Pitch].Error != 200 {
		t.Fatalf("pitch error=%d want 200 (history kept)", s.Axes[Pitch].Error)
	}
}

func TestDisable_Idempotent(t *testing.T) {
	c, _, out := newTestController(t, Config{})
	if err := c.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if len(out.calls) != 0 {
		t.Fatalf("calls=%d want 0 when already disabled", len(out.calls))
	}
}

func TestIdle_DrivesConfiguredChannelsLow(t *testing.T) {
	c, _, out := newTestController(t, Config{})
	out.levels[1] = 200
	if err := c.Idle(); err != nil {
		t.Fatalf("Idle: %v", err)
	}
	if len(out.calls) != 6 {
		t.Fatalf("calls=%d want 6", len(out.calls))
	}
	if out.levels[1] != 0 {
		t.Fatalf("channel 1=%d want 0", out.levels[1])
	}
}
