// Package serialport opens serial devices through one of the supported drivers.
package serialport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"

	"github.com/mastercactapus/gscan/spjs"
)

// Drivers.
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"

	// DriverSPJS opens the port on a remote Serial Port JSON Server.
	DriverSPJS = "spjs"
)

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser

	// ResetInputBuffer drops data received by the OS but not yet read.
	ResetInputBuffer() error
}

// Options configure a serial device. Framing is always 8N1.
type Options struct {
	Driver string
	Baud   int

	// ReadTimeout makes reads return early with no data; zero blocks.
	ReadTimeout time.Duration

	// SPJSURL is the websocket URL of the server for DriverSPJS.
	SPJSURL string
}

// Open opens path with the configured driver. An empty driver selects bugst.
func Open(path string, opt Options) (Port, error) {
	switch opt.Driver {
	case "", DriverBugst:
		return openBugst(path, opt)
	case DriverTarm:
		return openTarm(path, opt)
	case DriverSPJS:
		if opt.SPJSURL == "" {
			return nil, fmt.Errorf("serialport: %s driver needs a server URL", DriverSPJS)
		}
		p, err := spjs.Open(opt.SPJSURL, path, opt.Baud)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("serialport: unknown driver %q", opt.Driver)
}

func openBugst(path string, opt Options) (Port, error) {
	p, err := bugst.Open(path, &bugst.Mode{
		BaudRate: opt.Baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", path, err)
	}
	if opt.ReadTimeout > 0 {
		if err := p.SetReadTimeout(opt.ReadTimeout); err != nil {
			p.Close()
			return nil, fmt.Errorf("serialport: set read timeout: %w", err)
		}
	}
	return p, nil
}

type tarmPort struct{ *serial.Port }

// ResetInputBuffer flushes the port; tarm discards both directions.
func (p tarmPort) ResetInputBuffer() error { return p.Flush() }

func openTarm(path string, opt Options) (Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        opt.Baud,
		ReadTimeout: opt.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", path, err)
	}
	return tarmPort{p}, nil
}
