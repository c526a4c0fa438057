package attitude

import (
	"fmt"
	"strings"
)

// Terms are the three error terms of one axis at the time of combination.
type Terms struct {
	Proportional int64
	Integral     int64
	Derivative   int64
}

// Combiner turns error terms and gains into a raw (unclamped) actuation.
type Combiner interface {
	Combine(t Terms, g Gains) int64
}

type CombinerFunc func(t Terms, g Gains) int64

func (f CombinerFunc) Combine(t Terms, g Gains) int64 { return f(t, g) }

// InverseGains divides each error term by its gain. This is how the flight
// code has always combined terms, so existing gain tables assume it. A zero
// gain drops its term.
var InverseGains Combiner = CombinerFunc(func(t Terms, g Gains) int64 {
	return divTerm(t.Proportional, g.P) + divTerm(t.Integral, g.I) + divTerm(t.Derivative, g.D)
})

// MultiplyGains is the textbook PID law: each term is scaled by its gain.
var MultiplyGains Combiner = CombinerFunc(func(t Terms, g Gains) int64 {
	return t.Proportional*int64(g.P) + t.Integral*int64(g.I) + t.Derivative*int64(g.D)
})

func divTerm(v int64, gain int32) int64 {
	if gain == 0 {
		return 0
	}
	return v / int64(gain)
}

// CombinerByName maps a config value to a Combiner. Empty selects InverseGains.
func CombinerByName(name string) (Combiner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "inverse":
		return InverseGains, nil
	case "multiply":
		return MultiplyGains, nil
	}
	return nil, fmt.Errorf("attitude: unknown combiner %q", name)
}

// Pacing decides who advances the last actuation time.
type Pacing uint8

const (
	// PacingExternal leaves the last actuation time to MarkActuated callers;
	// UpdateActuators never moves it.
	PacingExternal Pacing = iota
	// PacingSelf advances the last actuation time after each gated pass, so
	// actuators change at most once per minimum update interval.
	PacingSelf
)

func ParsePacing(s string) (Pacing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "external":
		return PacingExternal, nil
	case "self":
		return PacingSelf, nil
	}
	return 0, fmt.Errorf("attitude: unknown pacing %q", s)
}

func (p Pacing) String() string {
	if p == PacingSelf {
		return "self"
	}
	return "external"
}
