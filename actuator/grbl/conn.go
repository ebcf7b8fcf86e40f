// Package grbl drives the scanner head through a Grbl motion controller.
package grbl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/gscan/gcode"
)

// ErrGrblReset will be returned from Exec if a reset is encountered
// before the command was acknowledged.
var ErrGrblReset = errors.New("grbl reset")

// ErrAlarm is returned once the controller reports an alarm. Grbl ignores
// motion until the alarm is cleared (`$X`) or the controller is reset.
var ErrAlarm = errors.New("grbl alarm")

// ErrRejected is wrapped by `error:N` responses.
var ErrRejected = errors.New("grbl rejected command")

// Conn represents a direct connection to a Grbl controller.
//
// Commands are sent one at a time; each Exec waits for its `ok` before the
// next line is written.
type Conn struct {
	rw io.ReadWriter

	ackCh   chan error
	resetCh chan struct{}
	alarmCh chan string
	closeCh chan struct{}
	doneCh  chan struct{}
	readErr error

	closeOnce sync.Once

	statusMx  sync.Mutex
	status    Status
	statusSeq uint64

	mx  sync.Mutex // port writes
	wMx sync.Mutex // one command in flight
}

// NewConn creates a new Conn using the provided ReadWriter for data.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:      rw,
		ackCh:   make(chan error, 1),
		resetCh: make(chan struct{}, 1),
		alarmCh: make(chan string, 1),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close will abort any in-progress commands and close the
// underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.doneCh)
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		switch {
		case line == "":
		case line == "ok":
			c.ack(nil)
		case strings.HasPrefix(line, "error:"):
			c.ack(fmt.Errorf("%w: %s", ErrRejected, line))
		case strings.HasPrefix(line, "ALARM:"):
			select {
			case c.alarmCh <- line:
			default:
			}
		case strings.HasPrefix(line, "Grbl"):
			select {
			case c.resetCh <- struct{}{}:
			default:
			}
		case line[0] == '<':
			c.statusMx.Lock()
			stat, err := parseStatus(c.status, line)
			if err == nil {
				c.status = *stat
				c.statusSeq++
			}
			c.statusMx.Unlock()
			if err != nil {
				log.Println("ERROR: parse status:", err)
			}
		case line[0] == '[':
			// push messages
		default:
			log.Printf("grbl: unexpected line %q", line)
		}
	}
	c.readErr = scan.Err()
	if c.readErr == nil {
		c.readErr = io.ErrUnexpectedEOF
	}
}

func (c *Conn) ack(err error) {
	select {
	case c.ackCh <- err:
	default:
		log.Println("grbl: dropped unexpected response")
	}
}

// next waits for the response to the command in flight.
func (c *Conn) next() error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	case <-c.resetCh:
		return ErrGrblReset
	case line := <-c.alarmCh:
		return fmt.Errorf("%w: %s", ErrAlarm, line)
	case <-c.doneCh:
		return c.readErr
	case err := <-c.ackCh:
		return err
	}
}

// Status returns the last status report, if any was received. Send `?`
// with WriteByte to request one.
func (c *Conn) Status() (Status, bool) {
	c.statusMx.Lock()
	defer c.statusMx.Unlock()
	return c.status, c.statusSeq > 0
}

// QueryStatus sends `?` and waits for the report it triggers.
func (c *Conn) QueryStatus(timeout time.Duration) (Status, error) {
	c.statusMx.Lock()
	seq := c.statusSeq
	c.statusMx.Unlock()

	if err := c.WriteByte('?'); err != nil {
		return Status{}, err
	}
	deadline := time.Now().Add(timeout)
	for {
		c.statusMx.Lock()
		stat, newSeq := c.status, c.statusSeq
		c.statusMx.Unlock()
		if newSeq != seq {
			return stat, nil
		}
		if time.Now().After(deadline) {
			return Status{}, errors.New("grbl: no status report")
		}
		select {
		case <-c.doneCh:
			return Status{}, io.ErrClosedPipe
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// WriteByte will write directly to the serial device, without waiting
// for a response.
//
// Use for realtime commands like `!` (feed hold) or 0x18 (soft reset).
func (c *Conn) WriteByte(p byte) (err error) {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}
	c.mx.Lock()
	_, err = c.rw.Write([]byte{p})
	c.mx.Unlock()
	return err
}

// Exec sends a single block and returns after the controller acknowledged it.
func (c *Conn) Exec(b gcode.Block) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("grbl: %s: %w", b, err)
	}
	return c.Command(b.String())
}

// Command sends one raw line, like `$X` or `$H`, and waits for the response.
func (c *Conn) Command(line string) error {
	c.wMx.Lock()
	defer c.wMx.Unlock()

	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}

	// anything pending now belongs to an earlier command
	for drained := false; !drained; {
		select {
		case <-c.ackCh:
		case <-c.resetCh:
		case <-c.alarmCh:
		default:
			drained = true
		}
	}

	c.mx.Lock()
	_, err := io.WriteString(c.rw, line+"\n")
	c.mx.Unlock()
	if err != nil {
		return err
	}
	return c.next()
}
