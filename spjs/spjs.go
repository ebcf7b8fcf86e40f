// Package spjs reaches a serial port shared by a Serial Port JSON Server
// (chilipeppr serial-port-json-server) over its websocket API.
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("spjs: port closed")

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "gscan_" + strconv.FormatInt(id, 36)
}

// DataFrame carries bytes received on a port.
type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

type ErrorMessage struct {
	Error string
}

type SerialPortList struct {
	SerialPorts []SerialPort
}

type SerialPort struct {
	Name   string
	IsOpen bool
	Baud   int
}

// JSON is the payload of a `sendjson` command.
type JSON struct {
	Port string `json:"P"`
	Data []Data
}

type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if msg["Cmd"] != nil {
		// command status and queue reports
		return nil, nil
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

// Port is one serial port on the server. It satisfies io.ReadWriteCloser.
type Port struct {
	name string
	ws   *websocket.Conn

	wMx sync.Mutex

	mx     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	err    error
	closed bool
}

// Open connects to the server at url (e.g. ws://host:8989/ws) and opens
// the named port at baud.
func Open(url, name string, baud int) (*Port, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("spjs: connect %s: %w", url, err)
	}
	p := &Port{name: name, ws: ws}
	p.cond = sync.NewCond(&p.mx)
	go p.readLoop()

	if err := p.writeText(fmt.Sprintf("open %s %d", name, baud)); err != nil {
		ws.Close()
		return nil, err
	}
	return p, nil
}

func (p *Port) writeText(s string) error {
	p.wMx.Lock()
	defer p.wMx.Unlock()
	if err := p.ws.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		return fmt.Errorf("spjs: send: %w", err)
	}
	return nil
}

func (p *Port) readLoop() {
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			p.mx.Lock()
			if p.err == nil {
				p.err = err
			}
			p.cond.Broadcast()
			p.mx.Unlock()
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			log.Println("ERROR: spjs: parse:", err)
			continue
		}
		switch msg := val.(type) {
		case *ErrorMessage:
			log.Println("ERROR: spjs:", msg.Error)
		case *DataFrame:
			if msg.Port != p.name {
				continue
			}
			p.mx.Lock()
			p.buf.WriteString(msg.Data)
			p.cond.Broadcast()
			p.mx.Unlock()
		}
	}
}

func (p *Port) Read(b []byte) (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	for p.buf.Len() == 0 {
		if p.closed {
			return 0, ErrClosed
		}
		if p.err != nil {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	return p.buf.Read(b)
}

// Write sends b to the port. The server buffers it for the device.
func (p *Port) Write(b []byte) (int, error) {
	p.mx.Lock()
	closed := p.closed
	p.mx.Unlock()
	if closed {
		return 0, ErrClosed
	}

	data, err := json.Marshal(JSON{Port: p.name, Data: []Data{{Data: string(b), ID: nextID()}}})
	if err != nil {
		return 0, err
	}
	if err := p.writeText("sendjson " + string(data)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ResetInputBuffer drops received bytes not yet read.
func (p *Port) ResetInputBuffer() error {
	p.mx.Lock()
	p.buf.Reset()
	p.mx.Unlock()
	return nil
}

// Close releases the port on the server and disconnects.
func (p *Port) Close() error {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mx.Unlock()

	err := p.writeText("close " + p.name)
	if cerr := p.ws.Close(); err == nil {
		err = cerr
	}
	return err
}
