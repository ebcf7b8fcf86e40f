package grbl

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gscan/gcode"
)

// fakeGrbl answers each received line with the output of respond.
type fakeGrbl struct {
	io.Reader
	io.Writer

	mx    sync.Mutex
	lines []string
}

func newFakeGrbl(t *testing.T, respond func(line string) string) *fakeGrbl {
	hostR, devW := io.Pipe()
	devR, hostW := io.Pipe()
	f := &fakeGrbl{Reader: hostR, Writer: hostW}
	t.Cleanup(func() {
		hostW.Close()
		devW.Close()
	})
	go func() {
		scan := bufio.NewScanner(devR)
		for scan.Scan() {
			f.mx.Lock()
			f.lines = append(f.lines, scan.Text())
			f.mx.Unlock()
			if _, err := io.WriteString(devW, respond(scan.Text())); err != nil {
				return
			}
		}
	}()
	return f
}

func (f *fakeGrbl) Lines() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.lines...)
}

func TestConn_Exec(t *testing.T) {
	dev := newFakeGrbl(t, func(line string) string {
		if line == "G1 Q1" {
			return "error:20\r\n"
		}
		return "<Idle|MPos:0.000,0.000,0.000>\r\n[MSG:hi]\r\nok\r\n"
	})
	c := NewConn(dev)
	defer c.Close()

	require.NoError(t, c.Exec(gcode.Dwell(0)))
	err := c.Command("G1 Q1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "error:20")

	assert.Error(t, c.Exec(gcode.Block{{W: 'X', Arg: 1}, {W: 'X', Arg: 2}}))
	assert.Equal(t, []string{"G4 P0", "G1 Q1"}, dev.Lines())
}

func TestConn_Reset(t *testing.T) {
	dev := newFakeGrbl(t, func(line string) string {
		if line == "$H" {
			return "\r\nGrbl 1.1h ['$' for help]\r\n"
		}
		return "ok\r\n"
	})
	c := NewConn(dev)
	defer c.Close()

	assert.Equal(t, ErrGrblReset, c.Command("$H"))
	assert.NoError(t, c.Command("$X"))
}

func TestConn_Alarm(t *testing.T) {
	dev := newFakeGrbl(t, func(line string) string {
		if line == "G4 P0" {
			return "ALARM:1\r\n"
		}
		return "ok\r\n"
	})
	c := NewConn(dev)
	defer c.Close()

	err := c.Exec(gcode.Dwell(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlarm))
	assert.NoError(t, c.Command("$X"))
}

func TestConn_Close(t *testing.T) {
	c := NewConn(newFakeGrbl(t, func(string) string { return "" }))
	errCh := make(chan error, 1)
	go func() { errCh <- c.Command("G4 P1") }()

	// unanswered command unblocks on Close
	require.NoError(t, c.Close())
	assert.Error(t, <-errCh)
	assert.Equal(t, io.ErrClosedPipe, c.Command("$X"))
}

func TestAxes_MoveTo(t *testing.T) {
	dev := newFakeGrbl(t, func(string) string { return "ok\n" })
	c := NewConn(dev)
	defer c.Close()

	ax := &Axes{Conn: c, UnitsPerDegree: 2}
	require.NoError(t, ax.MoveTo(10, -2.5))

	ax = &Axes{Conn: c, H: 'A', V: 'B'}
	require.NoError(t, ax.MoveTo(1, 2))

	ax = &Axes{Conn: c, H: 'X', V: 'P'}
	assert.Error(t, ax.MoveTo(1, 2))

	assert.Equal(t, []string{
		"G90 G0 X20 Y-5", "G4 P0",
		"G90 G0 A1 B2", "G4 P0",
	}, dev.Lines())
}
