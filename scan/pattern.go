package scan

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mastercactapus/gscan/actuator"
)

// DefaultSettleTime is how long the head holds at the start before sampling.
const DefaultSettleTime = time.Second

// Range is an inclusive span of angles in degrees, Start <= Stop.
type Range struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
}

// SweepOrder selects the fast axis of the raster.
type SweepOrder int

const (
	// HorizontalPrimary sweeps horizontally and steps vertically between rows.
	HorizontalPrimary SweepOrder = iota
	// VerticalPrimary sweeps vertically and steps horizontally between rows.
	VerticalPrimary
)

func (o SweepOrder) String() string {
	switch o {
	case HorizontalPrimary:
		return "horizontal"
	case VerticalPrimary:
		return "vertical"
	}
	return fmt.Sprintf("SweepOrder(%d)", int(o))
}

// ParseSweepOrder accepts "horizontal" or "vertical" (or h/v).
func ParseSweepOrder(s string) (SweepOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "h", "horizontal", "horizontal-primary":
		return HorizontalPrimary, nil
	case "v", "vertical", "vertical-primary":
		return VerticalPrimary, nil
	}
	return 0, &ConfigError{Field: "order", Reason: fmt.Sprintf("unknown sweep order %q", s)}
}

// Pattern describes one raster scan.
type Pattern struct {
	Horizontal Range   `json:"horizontal"`
	Vertical   Range   `json:"vertical"`
	HStep      float64 `json:"hStep"`
	VStep      float64 `json:"vStep"`

	// StepTime is the pause after each fast axis step.
	StepTime time.Duration `json:"stepTime"`

	// SlowStepTime is the pause after a slow axis step; zero uses StepTime.
	SlowStepTime time.Duration `json:"slowStepTime"`

	// SettleTime is the hold at the start position before sampling; zero
	// selects DefaultSettleTime.
	SettleTime time.Duration `json:"settleTime"`
}

// ConfigError reports an unusable scan pattern.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid scan pattern: " + e.Field + " " + e.Reason
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Validate returns a *ConfigError if p cannot be scanned.
func (p Pattern) Validate() error {
	check := func(name string, r Range) error {
		if !finite(r.Start) || !finite(r.Stop) {
			return &ConfigError{Field: name, Reason: "must be finite"}
		}
		if r.Start > r.Stop {
			return &ConfigError{Field: name, Reason: fmt.Sprintf("start %g is past stop %g", r.Start, r.Stop)}
		}
		return nil
	}
	if err := check("horizontal", p.Horizontal); err != nil {
		return err
	}
	if err := check("vertical", p.Vertical); err != nil {
		return err
	}
	if !finite(p.HStep) || p.HStep <= 0 {
		return &ConfigError{Field: "h_step", Reason: "must be positive"}
	}
	if !finite(p.VStep) || p.VStep <= 0 {
		return &ConfigError{Field: "v_step", Reason: "must be positive"}
	}
	if p.StepTime < 0 || p.SlowStepTime < 0 || p.SettleTime < 0 {
		return &ConfigError{Field: "timing", Reason: "must not be negative"}
	}
	return nil
}

// Within returns a *ConfigError if any part of p lies outside lim.
func (p Pattern) Within(lim actuator.Limits) error {
	if err := lim.Check(p.Horizontal.Start, p.Vertical.Start); err != nil {
		return &ConfigError{Field: "start", Reason: err.Error()}
	}
	if err := lim.Check(p.Horizontal.Stop, p.Vertical.Stop); err != nil {
		return &ConfigError{Field: "stop", Reason: err.Error()}
	}
	return nil
}

// Start is the first position of the raster.
func (p Pattern) Start() Angles {
	return Angles{Horizontal: p.Horizontal.Start, Vertical: p.Vertical.Start}
}

// axisSteps lists the stops along r, clamping the last one to r.Stop.
func axisSteps(r Range, step float64) []float64 {
	const eps = 1e-9
	n := int(math.Floor((r.Stop-r.Start)/step + eps))
	vals := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		vals = append(vals, r.Start+float64(i)*step)
	}
	if r.Stop-vals[len(vals)-1] > eps {
		vals = append(vals, r.Stop)
	}
	return vals
}

func (p Pattern) axes(order SweepOrder) (fast, slow []float64) {
	h := axisSteps(p.Horizontal, p.HStep)
	v := axisSteps(p.Vertical, p.VStep)
	if order == VerticalPrimary {
		return v, h
	}
	return h, v
}

// Positions is the number of distinct stops in the raster.
func (p Pattern) Positions(order SweepOrder) int {
	fast, slow := p.axes(order)
	return len(fast) * len(slow)
}

// StepKind tells how the head got to a position.
type StepKind int

const (
	StepStart StepKind = iota // first position of the scan
	StepFast                  // along the current row
	StepSlow                  // onto the next row
)

// Walk calls fn for every position of the raster in boustrophedon order:
// even rows run the fast axis from start to stop, odd rows run it back.
// Walk stops at the first error from fn and returns it.
//
// The pattern must be valid.
func (p Pattern) Walk(order SweepOrder, fn func(a Angles, kind StepKind) error) error {
	fast, slow := p.axes(order)
	for row, s := range slow {
		for i := range fast {
			f := fast[i]
			if row%2 != 0 {
				f = fast[len(fast)-1-i]
			}

			kind := StepFast
			switch {
			case row == 0 && i == 0:
				kind = StepStart
			case i == 0:
				kind = StepSlow
			}

			a := Angles{Horizontal: f, Vertical: s}
			if order == VerticalPrimary {
				a = Angles{Horizontal: s, Vertical: f}
			}
			if err := fn(a, kind); err != nil {
				return err
			}
		}
	}
	return nil
}
