// Package command decodes uplinked balloon commands and applies the ones
// that belong to attitude control.
//
// On the wire a command is one text line: "<opcode>[ <arg>]", decimal or
// 0x-prefixed opcode, decimal argument.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sparky-ng/internal/attitude"
)

type Opcode uint16

const (
	Cutdown               Opcode = 0
	ChangeTransmitRate    Opcode = 1 // arg: seconds
	TurnHeaterOn          Opcode = 2
	TurnHeaterOff         Opcode = 3
	ManualHeaterControl   Opcode = 4 // arg: heater level
	ToggleAttitudeControl Opcode = 5 // arg: 0 off, anything else on
	SetYaw                Opcode = 6 // arg: hundredths of a degree
	SwitchRelays          Opcode = 100
	CheckRadioConnection  Opcode = 0xFFFF
)

var opcodeNames = map[Opcode]string{
	Cutdown:               "CUTDOWN",
	ChangeTransmitRate:    "CHANGE_TRANSMIT_RATE",
	TurnHeaterOn:          "TURN_HEATER_ON",
	TurnHeaterOff:         "TURN_HEATER_OFF",
	ManualHeaterControl:   "MANUAL_HEATER_CONTROL",
	ToggleAttitudeControl: "TOGGLE_ATTITUDE_CONTROL",
	SetYaw:                "SET_YAW",
	SwitchRelays:          "SWITCH_RELAYS",
	CheckRadioConnection:  "CHECK_RADIO_CONNECTION",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("OPCODE_%d", uint16(o))
}

// Known reports whether o is a defined opcode.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// TakesArg reports whether o carries a numeric argument.
func (o Opcode) TakesArg() bool {
	switch o {
	case ChangeTransmitRate, ManualHeaterControl, ToggleAttitudeControl, SetYaw:
		return true
	}
	return false
}

type Command struct {
	Op  Opcode
	Arg int32
}

func (c Command) String() string {
	if c.Op.TakesArg() {
		return fmt.Sprintf("%s %d", c.Op, c.Arg)
	}
	return c.Op.String()
}

// ErrUnsupported is returned for opcodes handled by other payload
// subsystems (heater, cutdown, relays).
var ErrUnsupported = errors.New("command: not handled by attitude control")

func Parse(line string) (Command, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}, errors.New("command: empty")
	}
	if len(f) > 2 {
		return Command{}, fmt.Errorf("command: too many fields in %q", line)
	}
	op, err := strconv.ParseUint(f[0], 0, 16)
	if err != nil {
		return Command{}, fmt.Errorf("command: bad opcode %q", f[0])
	}
	cmd := Command{Op: Opcode(op)}
	if !cmd.Op.Known() {
		return Command{}, fmt.Errorf("command: unknown opcode %d", op)
	}

	switch {
	case cmd.Op.TakesArg() && len(f) != 2:
		return Command{}, fmt.Errorf("command: %s requires an argument", cmd.Op)
	case !cmd.Op.TakesArg() && len(f) != 1:
		return Command{}, fmt.Errorf("command: %s takes no argument", cmd.Op)
	}
	if len(f) == 2 {
		arg, err := strconv.ParseInt(f[1], 10, 32)
		if err != nil {
			return Command{}, fmt.Errorf("command: bad argument %q", f[1])
		}
		cmd.Arg = int32(arg)
	}
	return cmd, nil
}

// Target is the part of the attitude controller commands can reach.
type Target interface {
	Enable()
	Disable() error
	SetDesiredYaw(yaw int32)
}

var _ Target = (*attitude.Controller)(nil)

type Dispatcher struct {
	Target Target
	// SetTransmitInterval applies CHANGE_TRANSMIT_RATE. Nil rejects the
	// command.
	SetTransmitInterval func(time.Duration)
}

// Dispatch applies cmd. It returns ErrUnsupported for commands that belong
// to other subsystems.
func (d *Dispatcher) Dispatch(cmd Command) error {
	switch cmd.Op {
	case ToggleAttitudeControl:
		if d.Target == nil {
			return errors.New("command: no attitude controller")
		}
		if cmd.Arg != 0 {
			d.Target.Enable()
			return nil
		}
		return d.Target.Disable()
	case SetYaw:
		if d.Target == nil {
			return errors.New("command: no attitude controller")
		}
		d.Target.SetDesiredYaw(cmd.Arg)
		return nil
	case ChangeTransmitRate:
		if cmd.Arg <= 0 {
			return fmt.Errorf("command: transmit rate must be > 0, got %d", cmd.Arg)
		}
		if d.SetTransmitInterval == nil {
			return ErrUnsupported
		}
		d.SetTransmitInterval(time.Duration(cmd.Arg) * time.Second)
		return nil
	case CheckRadioConnection:
		return nil
	case Cutdown, TurnHeaterOn, TurnHeaterOff, ManualHeaterControl, SwitchRelays:
		return fmt.Errorf("%s: %w", cmd.Op, ErrUnsupported)
	default:
		return fmt.Errorf("command: unknown opcode %d", uint16(cmd.Op))
	}
}

// Handle parses and dispatches one line and returns the reply text.
func (d *Dispatcher) Handle(line string) string {
	cmd, err := Parse(line)
	if err == nil {
		err = d.Dispatch(cmd)
	}
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK"
}
