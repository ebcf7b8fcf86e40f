package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mastercactapus/gscan/coord"
)

const (
	feedWriteWait = 5 * time.Second
	feedBacklog   = 256
)

type feedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type feedClient struct {
	ws   *websocket.Conn
	send chan []byte
}

// Feed broadcasts received points to websocket clients as JSON
// `{"x":..,"y":..,"z":..}` text messages. A client that cannot keep up
// misses points rather than slowing the receiver down.
type Feed struct {
	upgrader websocket.Upgrader

	mx      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := f.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("ERROR: websocket upgrade:", err)
		return
	}
	c := &feedClient{ws: ws, send: make(chan []byte, feedBacklog)}

	f.mx.Lock()
	if f.closed {
		f.mx.Unlock()
		ws.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.wg.Add(1)
	f.mx.Unlock()

	go f.writeLoop(c)

	// discard anything the client sends, until it goes away
	for {
		if _, _, err := ws.NextReader(); err != nil {
			break
		}
	}
	f.remove(c)
}

func (f *Feed) remove(c *feedClient) {
	f.mx.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
	f.mx.Unlock()
}

func (f *Feed) writeLoop(c *feedClient) {
	defer f.wg.Done()
	defer c.ws.Close()
	for data := range c.send {
		err := c.ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err == nil {
			err = c.ws.WriteMessage(websocket.TextMessage, data)
		}
		if err != nil {
			log.Printf("ERROR: feed %s: %v", c.ws.RemoteAddr(), err)
			f.remove(c)
			for range c.send {
			}
			return
		}
	}
	err := c.ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err == nil {
		err = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	if err != nil {
		log.Printf("ERROR: feed %s: close: %v", c.ws.RemoteAddr(), err)
	}
}

// Clients is the number of connected clients.
func (f *Feed) Clients() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.clients)
}

// Publish queues p for every connected client.
func (f *Feed) Publish(p coord.Point) {
	data, err := json.Marshal(feedPoint{X: p.X, Y: p.Y, Z: p.Z})
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}

	f.mx.Lock()
	defer f.mx.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Close disconnects all clients.
func (f *Feed) Close() {
	f.mx.Lock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
	f.mx.Unlock()
	f.wg.Wait()
}
