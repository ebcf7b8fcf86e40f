// Package actuator moves the pan (horizontal) and tilt (vertical) axes of the
// scanner head.
package actuator

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned for a target outside the configured Limits.
var ErrOutOfRange = errors.New("angle out of range")

// Axes positions the scanner head. MoveTo returns once the head has reached
// the target, in degrees.
type Axes interface {
	MoveTo(h, v float64) error
}

// Position is a pair of axis angles in degrees.
type Position struct {
	H, V float64
}

// Limits bound the travel of each axis, inclusive.
type Limits struct {
	MinH, MaxH float64
	MinV, MaxV float64
}

// DefaultLimits match a 270 degree servo on each axis.
var DefaultLimits = Limits{MinH: -135, MaxH: 135, MinV: 0, MaxV: 270}

// Check returns an error wrapping ErrOutOfRange if (h, v) is outside l.
func (l Limits) Check(h, v float64) error {
	if h < l.MinH || h > l.MaxH {
		return fmt.Errorf("horizontal %g not in [%g, %g]: %w", h, l.MinH, l.MaxH, ErrOutOfRange)
	}
	if v < l.MinV || v > l.MaxV {
		return fmt.Errorf("vertical %g not in [%g, %g]: %w", v, l.MinV, l.MaxV, ErrOutOfRange)
	}
	return nil
}

// Recorder is a simulated head that remembers every move.
type Recorder struct {
	// Err, if set, is returned by MoveTo instead of moving.
	Err func(h, v float64) error

	// Max bounds the remembered moves, dropping the oldest; zero keeps all.
	Max int

	mx    sync.Mutex
	moves []Position
}

func (r *Recorder) MoveTo(h, v float64) error {
	if r.Err != nil {
		if err := r.Err(h, v); err != nil {
			return err
		}
	}
	r.mx.Lock()
	r.moves = append(r.moves, Position{H: h, V: v})
	if r.Max > 0 && len(r.moves) > r.Max {
		r.moves = append(r.moves[:0], r.moves[len(r.moves)-r.Max:]...)
	}
	r.mx.Unlock()
	return nil
}

// Moves returns a copy of the moves made so far.
func (r *Recorder) Moves() []Position {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]Position(nil), r.moves...)
}

// Position returns the last position, or the origin before any move.
func (r *Recorder) Position() Position {
	r.mx.Lock()
	defer r.mx.Unlock()
	if len(r.moves) == 0 {
		return Position{}
	}
	return r.moves[len(r.moves)-1]
}
