// Package attitude implements the per-axis PID loop that keeps the payload
// pointed at its desired attitude.
//
// Angles are hundredths of a degree, normalized to [-18000, 18000).
// Timestamps are milliseconds from the controller clock.
//
// Expected call order per cycle: UpdateState, UpdateErrors, UpdateActuators.
// The controller does not enforce it; skipping a step just reuses stale terms.
package attitude

import (
	"errors"
	"sync"
	"time"

	"sparky-ng/internal/fixedpoint"
	"sparky-ng/internal/history"
)

const (
	// HistoryDepth is the number of (time, error) samples kept per axis for
	// the derivative estimate.
	HistoryDepth = 8

	// MaxActuation is the largest actuation magnitude handed to an Output.
	MaxActuation = 255
)

// Output drives actuator channels. magnitude is in [0, MaxActuation]; 0 is
// the inactive level. Digital outputs treat any non-zero magnitude as on.
type Output interface {
	Set(ch Channel, magnitude int32) error
}

type nopOutput struct{}

func (nopOutput) Set(Channel, int32) error { return nil }

type Config struct {
	// MinUpdateInterval is how long must pass since the last actuation time
	// before actuators are changed.
	MinUpdateInterval time.Duration

	Output   Output
	Combiner Combiner
	Pacing   Pacing

	// Clock returns milliseconds. Defaults to time since New.
	Clock func() uint32
}

type axisState struct {
	desired    int32
	actual     int32
	errors     *history.Ring[int64]
	integral   int64
	derivative int64
	gains      Gains
	threshold  int32
	pair       ChannelPair
	pairSet    bool
}

// Controller holds the attitude loop state. All methods are safe to call
// from multiple goroutines; each one runs under the controller lock.
type Controller struct {
	mu sync.Mutex

	enabled           bool
	lastActuationTime uint32
	minUpdateInterval uint32
	sampleCount       int
	times             *history.Ring[uint32]
	axes              [numAxes]axisState

	out      Output
	combiner Combiner
	pacing   Pacing
	clock    func() uint32
}

func New(cfg Config) *Controller {
	c := &Controller{
		minUpdateInterval: uint32(cfg.MinUpdateInterval / time.Millisecond),
		times:             history.NewRing[uint32](HistoryDepth),
		out:               cfg.Output,
		combiner:          cfg.Combiner,
		pacing:            cfg.Pacing,
		clock:             cfg.Clock,
	}
	if c.out == nil {
		c.out = nopOutput{}
	}
	if c.combiner == nil {
		c.combiner = InverseGains
	}
	if c.clock == nil {
		start := time.Now()
		c.clock = func() uint32 { return uint32(time.Since(start).Milliseconds()) }
	}
	for i := range c.axes {
		c.axes[i].errors = history.NewRing[int64](HistoryDepth)
	}
	return c
}

// Millis returns the controller clock, for stamping UpdateState calls.
func (c *Controller) Millis() uint32 {
	return c.clock()
}

func (c *Controller) SetActuatorPins(axis Axis, plus, minus Channel) {
	if !axis.valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[axis].pair = ChannelPair{Plus: plus, Minus: minus}
	c.axes[axis].pairSet = true
}

func (c *Controller) SetActuationThreshold(threshold int32, axis Axis) {
	if !axis.valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[axis].threshold = threshold
}

func (c *Controller) SetGains(axis Axis, p, i, d int32) {
	if !axis.valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[axis].gains = Gains{P: p, I: i, D: d}
}

func (c *Controller) SetCombiner(comb Combiner) {
	if comb == nil {
		comb = InverseGains
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.combiner = comb
}

func (c *Controller) SetPacing(p Pacing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pacing = p
}

// MarkActuated sets the last actuation time used by the minimum interval gate.
func (c *Controller) MarkActuated(now uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActuationTime = now
}

// UpdateState records a new attitude reading taken at now.
func (c *Controller) UpdateState(pitch, roll, yaw int32, now uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[Pitch].actual = fixedpoint.Normalize(pitch)
	c.axes[Roll].actual = fixedpoint.Normalize(roll)
	c.axes[Yaw].actual = fixedpoint.Normalize(yaw)

	c.times.Push(now)
	if c.sampleCount < HistoryDepth {
		c.sampleCount++
	}
}

func (c *Controller) SetDesiredState(pitch, roll, yaw int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[Pitch].desired = fixedpoint.Normalize(pitch)
	c.axes[Roll].desired = fixedpoint.Normalize(roll)
	c.axes[Yaw].desired = fixedpoint.Normalize(yaw)
}

// SetDesiredYaw changes only the yaw target.
func (c *Controller) SetDesiredYaw(yaw int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[Yaw].desired = fixedpoint.Normalize(yaw)
}

func (c *Controller) DesiredState() (pitch, roll, yaw int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.axes[Pitch].desired, c.axes[Roll].desired, c.axes[Yaw].desired
}

// UpdateErrors pushes the current proportional error of every axis into its
// history. While enabled it also accumulates the integral and re-estimates
// the derivative; while disabled those stay at zero.
func (c *Controller) UpdateErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.axes {
		ax := &c.axes[i]
		ax.errors.Push(int64(ax.desired) - int64(ax.actual))
	}
	if !c.enabled {
		return
	}

	var dt uint32
	t0, ok0 := c.times.At(0)
	t1, ok1 := c.times.At(1)
	if ok0 && ok1 {
		dt = t0 - t1
	}

	var times [HistoryDepth]uint32
	var values [HistoryDepth]int64
	for i := range c.axes {
		ax := &c.axes[i]
		e, _ := ax.errors.At(0)
		ax.integral += e * int64(dt) / 1000

		n := c.sampleCount
		if l := ax.errors.Len(); l < n {
			n = l
		}
		if l := c.times.Len(); l < n {
			n = l
		}
		for j := 0; j < n; j++ {
			times[j], _ = c.times.At(j)
			values[j], _ = ax.errors.At(j)
		}
		ax.derivative = fixedpoint.Slope(times[:n], values[:n])
	}
}

// GetActuation combines the error terms of axis and clamps the result to
// ±MaxActuation. Unknown axes return 0.
func (c *Controller) GetActuation(axis Axis) int32 {
	if !axis.valid() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actuationLocked(axis)
}

func (c *Controller) actuationLocked(axis Axis) int32 {
	ax := &c.axes[axis]
	p, _ := ax.errors.At(0)
	raw := c.combiner.Combine(Terms{Proportional: p, Integral: ax.integral, Derivative: ax.derivative}, ax.gains)
	return int32(fixedpoint.Clamp(raw, -MaxActuation, MaxActuation))
}

// UpdateActuators drives each configured axis from its current actuation.
// It does nothing while disabled, or until more than the minimum update
// interval has passed since the last actuation time.
func (c *Controller) UpdateActuators() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil
	}

	now := c.clock()
	if now-c.lastActuationTime <= c.minUpdateInterval {
		return nil
	}

	var errs []error
	for _, axis := range Axes {
		ax := &c.axes[axis]
		if !ax.pairSet {
			continue
		}
		act := c.actuationLocked(axis)
		mag := int32(fixedpoint.Abs(int64(act)))
		switch {
		case mag < ax.threshold:
			errs = append(errs, c.out.Set(ax.pair.Plus, 0), c.out.Set(ax.pair.Minus, 0))
		case act > 0:
			errs = append(errs, c.out.Set(ax.pair.Plus, mag), c.out.Set(ax.pair.Minus, 0))
		default:
			errs = append(errs, c.out.Set(ax.pair.Plus, 0), c.out.Set(ax.pair.Minus, mag))
		}
	}
	if c.pacing == PacingSelf {
		c.lastActuationTime = now
	}
	return errors.Join(errs...)
}

func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable stops actuation, forces every channel inactive and clears the
// integral and derivative terms. Error history is kept. Calling it while
// already disabled does nothing.
func (c *Controller) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil
	}
	c.enabled = false
	for i := range c.axes {
		c.axes[i].integral = 0
		c.axes[i].derivative = 0
	}
	return c.idleLocked()
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Idle forces every configured channel to the inactive level without
// changing controller state.
func (c *Controller) Idle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleLocked()
}

func (c *Controller) idleLocked() error {
	var errs []error
	for i := range c.axes {
		ax := &c.axes[i]
		if !ax.pairSet {
			continue
		}
		errs = append(errs, c.out.Set(ax.pair.Plus, 0), c.out.Set(ax.pair.Minus, 0))
	}
	return errors.Join(errs...)
}
