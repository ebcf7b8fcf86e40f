package tfmini

import (
	"math/rand"
	"sync"
	"time"
)

// Simulator is an io.ReadCloser that emits frames like a sensor would.
// It is used for dry runs without hardware.
type Simulator struct {
	// Interval between frames; 0 emits as fast as the reader consumes.
	Interval time.Duration

	// Next returns the measurement for frame n. Nil yields a noisy 5m reading.
	Next func(n int) Measurement

	mx      sync.Mutex
	n       int
	pending []byte
	last    time.Time
	closed  chan struct{}
	once    sync.Once
}

// NewSimulator returns a Simulator emitting one frame per interval.
func NewSimulator(interval time.Duration) *Simulator {
	return &Simulator{Interval: interval, closed: make(chan struct{})}
}

func defaultReading(int) Measurement {
	return Measurement{
		Distance:    480 + rand.Intn(40),
		Strength:    800 + rand.Intn(400),
		Temperature: 40,
	}
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if len(s.pending) == 0 {
		if s.Interval > 0 {
			wait := time.Until(s.last.Add(s.Interval))
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.closed:
					return 0, ErrClosed
				}
			}
			s.last = time.Now()
		}
		select {
		case <-s.closed:
			return 0, ErrClosed
		default:
		}

		next := s.Next
		if next == nil {
			next = defaultReading
		}
		f := EncodeFrame(next(s.n))
		s.n++
		s.pending = f[:]
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close unblocks pending reads.
func (s *Simulator) Close() error {
	s.once.Do(func() {
		if s.closed != nil {
			close(s.closed)
		}
	})
	return nil
}
