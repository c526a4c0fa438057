package attitude

import (
	"fmt"
	"strings"
)

// Axis identifies one rotational axis of the payload.
type Axis uint8

const (
	Pitch Axis = iota
	Roll
	Yaw

	numAxes = 3
)

// Axes lists every axis in index order.
var Axes = [numAxes]Axis{Pitch, Roll, Yaw}

func (a Axis) String() string {
	switch a {
	case Pitch:
		return "pitch"
	case Roll:
		return "roll"
	case Yaw:
		return "yaw"
	default:
		return fmt.Sprintf("axis(%d)", uint8(a))
	}
}

func (a Axis) valid() bool { return a < numAxes }

func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pitch":
		return Pitch, nil
	case "roll":
		return Roll, nil
	case "yaw":
		return Yaw, nil
	}
	return 0, fmt.Errorf("attitude: unknown axis %q", s)
}

// Channel is a handle for one actuator output line (for example a BCM GPIO
// number). Its meaning belongs to the Output implementation.
type Channel int

// ChannelPair holds the two channels that drive an axis in the positive and
// negative direction.
type ChannelPair struct {
	Plus  Channel
	Minus Channel
}

// Gains is the integer gain triple for one axis.
type Gains struct {
	P, I, D int32
}
