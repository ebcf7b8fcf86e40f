package grbl

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/coord"
)

func TestParseStatus(t *testing.T) {
	stat, err := parseStatus(Status{}, "<Idle|MPos:1.000,-2.500,3.000|FS:0,0|WCO:0.000,1.000,0.000>")
	require.NoError(t, err)
	assert.Equal(t, "Idle", stat.State)
	assert.Equal(t, coord.Point{X: 1, Y: -2.5, Z: 3}, stat.MPos)
	assert.Equal(t, coord.Point{Y: 1}, stat.WCO)

	// WCO carries over when omitted
	stat, err = parseStatus(*stat, "<Run|MPos:4,5,6|FS:500,0>")
	require.NoError(t, err)
	assert.Equal(t, "Run", stat.State)
	assert.Equal(t, coord.Point{X: 4, Y: 5, Z: 6}, stat.MPos)
	assert.Equal(t, coord.Point{Y: 1}, stat.WCO)

	_, err = parseStatus(Status{}, "<Idle|MPos:1,2>")
	assert.Error(t, err)
	_, err = parseStatus(Status{}, "<Idle|MPos:1,x,3>")
	assert.Error(t, err)
}

// answerStatus replies to every `?` with report.
func answerStatus(t *testing.T, report string) io.ReadWriter {
	hostR, devW := io.Pipe()
	devR, hostW := io.Pipe()
	t.Cleanup(func() {
		hostW.Close()
		devW.Close()
	})
	go func() {
		b := make([]byte, 1)
		for {
			if _, err := devR.Read(b); err != nil {
				return
			}
			if b[0] != '?' {
				continue
			}
			if _, err := io.WriteString(devW, report); err != nil {
				return
			}
		}
	}()
	return struct {
		io.Reader
		io.Writer
	}{hostR, hostW}
}

func TestAxes_Position(t *testing.T) {
	c := NewConn(answerStatus(t, "<Idle|MPos:20.000,-5.000,0.000|FS:0,0>\r\n"))
	defer c.Close()

	_, ok := c.Status()
	assert.False(t, ok)

	ax := &Axes{Conn: c, UnitsPerDegree: 2}
	pos, state, err := ax.Position(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Idle", state)
	assert.Equal(t, actuator.Position{H: 10, V: -2.5}, pos)

	// same report twice still counts as a fresh answer
	_, _, err = ax.Position(time.Second)
	require.NoError(t, err)

	ax = &Axes{Conn: c, H: 'A'}
	_, _, err = ax.Position(time.Second)
	assert.Error(t, err)
}

func TestConn_QueryStatusTimeout(t *testing.T) {
	c := NewConn(answerStatus(t, ""))
	defer c.Close()

	_, err := c.QueryStatus(30 * time.Millisecond)
	assert.Error(t, err)
}
