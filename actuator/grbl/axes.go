package grbl

import (
	"errors"
	"fmt"
	"time"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/gcode"
)

// Axes maps the scanner head onto two Grbl axes.
type Axes struct {
	Conn *Conn

	// H and V name the controller axes for pan and tilt; default X and Y.
	H, V byte

	// UnitsPerDegree converts angles to controller units; default 1.
	UnitsPerDegree float64
}

var _ actuator.Axes = &Axes{}

func (a *Axes) axes() (byte, byte, float64) {
	hAxis, vAxis := a.H, a.V
	if hAxis == 0 {
		hAxis = 'X'
	}
	if vAxis == 0 {
		vAxis = 'Y'
	}
	scale := a.UnitsPerDegree
	if scale == 0 {
		scale = 1
	}
	return hAxis, vAxis, scale
}

// MoveTo rapids to (h, v) and waits until motion has completed.
func (a *Axes) MoveTo(h, v float64) error {
	hAxis, vAxis, scale := a.axes()
	if !(gcode.Word{W: hAxis}).IsAxis() || !(gcode.Word{W: vAxis}).IsAxis() {
		return fmt.Errorf("grbl: %c and %c are not both axes", hAxis, vAxis)
	}
	move := gcode.Rapid(
		gcode.Word{W: hAxis, Arg: h * scale},
		gcode.Word{W: vAxis, Arg: v * scale},
	)
	if err := a.Conn.Exec(move); err != nil {
		return fmt.Errorf("move to (%g, %g): %w", h, v, err)
	}
	if err := a.Conn.Exec(gcode.Dwell(0)); err != nil {
		return fmt.Errorf("wait for move to (%g, %g): %w", h, v, err)
	}
	return nil
}

// Unlock clears an alarm state.
func (a *Axes) Unlock() error {
	return a.Conn.Command("$X")
}

// Position queries the controller and converts its machine position back
// to angles. Only X, Y and Z can be converted.
func (a *Axes) Position(timeout time.Duration) (actuator.Position, string, error) {
	stat, err := a.Conn.QueryStatus(timeout)
	if err != nil {
		return actuator.Position{}, "", err
	}
	hAxis, vAxis, scale := a.axes()
	h, hok := axisValue(stat.MPos, hAxis)
	v, vok := axisValue(stat.MPos, vAxis)
	if !hok || !vok {
		return actuator.Position{}, stat.State, errors.New("grbl: axis not in status report")
	}
	return actuator.Position{H: h / scale, V: v / scale}, stat.State, nil
}
