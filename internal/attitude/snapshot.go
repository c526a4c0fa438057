package attitude

// AxisSnapshot is a copy of one axis, taken under the controller lock.
type AxisSnapshot struct {
	Desired    int32
	Actual     int32
	Error      int64
	Integral   int64
	Derivative int64
	Actuation  int32
	Gains      Gains
	Threshold  int32
}

type Snapshot struct {
	Enabled           bool
	SampleCount       int
	LastActuationTime uint32
	Axes              [numAxes]AxisSnapshot
}

// Axis returns the snapshot of a, or a zero value for an unknown axis.
func (s Snapshot) Axis(a Axis) AxisSnapshot {
	if !a.valid() {
		return AxisSnapshot{}
	}
	return s.Axes[a]
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Enabled:           c.enabled,
		SampleCount:       c.sampleCount,
		LastActuationTime: c.lastActuationTime,
	}
	for _, a := range Axes {
		ax := &c.axes[a]
		e, _ := ax.errors.At(0)
		s.Axes[a] = AxisSnapshot{
			Desired:    ax.desired,
			Actual:     ax.actual,
			Error:      e,
			Integral:   ax.integral,
			Derivative: ax.derivative,
			Actuation:  c.actuationLocked(a),
			Gains:      ax.gains,
			Threshold:  ax.threshold,
		}
	}
	return s
}

// ErrorHistory returns the proportional error samples of axis, newest first.
func (c *Controller) ErrorHistory(axis Axis) []int64 {
	if !axis.valid() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.axes[axis].errors.Values()
}
