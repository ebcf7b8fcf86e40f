package tfmini

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
)

// DefaultMaxBuffered bounds the bytes a Sensor keeps when nobody reads.
const DefaultMaxBuffered = 64 * 1024

// DefaultRetries is how often ReadRetry attempts a read before giving up.
const DefaultRetries = 5

// ErrCommunicationLost is returned once repeated checksum errors exhaust ReadRetry.
var ErrCommunicationLost = errors.New("tfmini: sensor communication lost")

// ErrClosed is returned from Read after Close.
var ErrClosed = errors.New("tfmini: sensor closed")

// A FrameReader produces measurements.
type FrameReader interface {
	Read(clear bool) (Measurement, error)
	Available() int
}

// inputResetter is implemented by serial ports that can drop their OS buffer.
type inputResetter interface {
	ResetInputBuffer() error
}

// Stats are running counters of a Sensor.
type Stats struct {
	Frames         uint64
	ChecksumErrors uint64
	Discarded      uint64
}

// Sensor decodes frames from a byte stream, usually a serial port.
//
// A background goroutine drains the stream into an internal buffer so that
// Available can report the backlog.
type Sensor struct {
	r           io.Reader
	maxBuffered int

	readMx sync.Mutex // serializes Read

	mx     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	err    error
	closed bool

	frames    atomic.Uint64
	checksums atomic.Uint64
	discarded atomic.Uint64
}

var _ FrameReader = &Sensor{}

// NewSensor starts decoding from r.
func NewSensor(r io.Reader) *Sensor {
	s := &Sensor{
		r:           r,
		maxBuffered: DefaultMaxBuffered,
	}
	s.cond = sync.NewCond(&s.mx)
	go s.readLoop()
	return s
}

func (s *Sensor) readLoop() {
	chunk := make([]byte, 256)
	for {
		n, err := s.r.Read(chunk)

		s.mx.Lock()
		if n > 0 && !s.closed {
			s.buf = append(s.buf, chunk[:n]...)
			if over := len(s.buf) - s.maxBuffered; over > 0 {
				s.buf = s.buf[:copy(s.buf, s.buf[over:])]
				s.discarded.Add(uint64(over))
			}
		}
		if err != nil && s.err == nil {
			s.err = err
		}
		stop := s.err != nil || s.closed
		s.cond.Broadcast()
		s.mx.Unlock()

		if stop {
			return
		}
	}
}

// nextByte blocks until a byte is buffered; s.mx must be held.
func (s *Sensor) nextByte() (byte, error) {
	for len(s.buf) == 0 {
		if s.closed {
			return 0, ErrClosed
		}
		if s.err != nil {
			return 0, s.err
		}
		s.cond.Wait()
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

// Read decodes the next frame, blocking until one is available.
//
// If clear is set, all input buffered so far is dropped first, so the result
// reflects the sensor's current reading at the cost of waiting for a new frame.
// A bad checksum returns a *ChecksumError; the next Read resynchronizes on the
// following frame header.
func (s *Sensor) Read(clear bool) (Measurement, error) {
	s.readMx.Lock()
	defer s.readMx.Unlock()

	if clear {
		s.ResetInput()
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	var skipped uint64
	matched := 0
	for matched < 2 {
		b, err := s.nextByte()
		if err != nil {
			return Measurement{}, err
		}
		if b == header {
			matched++
			continue
		}
		skipped += uint64(matched) + 1
		matched = 0
	}
	if skipped > 0 {
		s.discarded.Add(skipped)
		log.Printf("tfmini: discarded %d bytes before frame header", skipped)
	}

	var frame [FrameSize]byte
	frame[0], frame[1] = header, header
	for i := 2; i < FrameSize; i++ {
		b, err := s.nextByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Measurement{}, err
		}
		frame[i] = b
	}

	m, err := DecodeFrame(frame[:])
	if err != nil {
		s.checksums.Add(1)
		return Measurement{}, err
	}
	s.frames.Add(1)
	return m, nil
}

// Available estimates the number of complete frames buffered.
//
// It is buffered bytes divided by FrameSize, so a partial frame at the head of
// the buffer is not accounted for.
func (s *Sensor) Available() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.buf) / FrameSize
}

// ResetInput drops all buffered, unread input.
func (s *Sensor) ResetInput() {
	s.mx.Lock()
	s.buf = s.buf[:0]
	s.mx.Unlock()

	if rr, ok := s.r.(inputResetter); ok {
		if err := rr.ResetInputBuffer(); err != nil {
			log.Println("ERROR: reset sensor input:", err)
		}
	}
}

// Stats returns a snapshot of the sensor counters.
func (s *Sensor) Stats() Stats {
	return Stats{
		Frames:         s.frames.Load(),
		ChecksumErrors: s.checksums.Load(),
		Discarded:      s.discarded.Load(),
	}
}

// Close stops decoding and closes the underlying reader if it is an io.Closer.
// Blocked Read calls return ErrClosed.
func (s *Sensor) Close() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mx.Unlock()

	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadRetry reads from r, retrying checksum failures up to attempts times.
//
// Only the first attempt clears the buffer. Once all attempts fail the error
// wraps both ErrCommunicationLost and the last checksum error. Other errors
// are returned as-is.
func ReadRetry(r FrameReader, clear bool, attempts int) (Measurement, error) {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		m, err := r.Read(clear && i == 0)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrChecksum) {
			return Measurement{}, err
		}
		last = err
	}
	return Measurement{}, fmt.Errorf("%w after %d attempts: %w", ErrCommunicationLost, attempts, last)
}
