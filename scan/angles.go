package scan

import "sync/atomic"

// Angles is where the head points, in degrees.
type Angles struct {
	Horizontal float64 `json:"h"`
	Vertical   float64 `json:"v"`
}

// angleState publishes Angles to concurrent readers. A reader always sees
// a pair that was stored together.
type angleState struct {
	p atomic.Pointer[Angles]
}

func (s *angleState) Store(a Angles) { s.p.Store(&a) }

func (s *angleState) Load() Angles {
	if a := s.p.Load(); a != nil {
		return *a
	}
	return Angles{}
}
