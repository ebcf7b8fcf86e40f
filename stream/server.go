package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/gscan/coord"
)

// ErrServerClosed is returned from Serve after Close.
var ErrServerClosed = errors.New("stream: server closed")

// ServerOptions configure a Server.
type ServerOptions struct {
	// ReadTimeout closes a connection that sent nothing for this long;
	// zero keeps idle connections open.
	ReadTimeout time.Duration
}

// ServerStats are running counters of a Server.
type ServerStats struct {
	Connections uint64
	Active      int64
	Records     uint64
	Dropped     uint64 // partial records left when a connection ended
}

// Server accepts point streams and publishes every record to one Queue.
type Server struct {
	q   *Queue
	opt ServerOptions

	ctx    context.Context
	cancel context.CancelFunc

	mx        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup

	connections atomic.Uint64
	active      atomic.Int64
	records     atomic.Uint64
	dropped     atomic.Uint64
}

func NewServer(q *Queue, opt ServerOptions) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		q:         q,
		opt:       opt,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l, handling each on its own goroutine,
// until l fails or Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mx.Unlock()

	defer func() {
		s.mx.Lock()
		delete(s.listeners, l)
		s.mx.Unlock()
		l.Close()
	}()

	log.Println("Listening for points on", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Println("ERROR: accept:", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}

		s.mx.Lock()
		if s.closed {
			s.mx.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mx.Unlock()

		go s.handle(conn)
	}
}

func (s *Server) isClosed() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.closed
}

func (s *Server) handle(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	s.connections.Add(1)
	s.active.Add(1)
	defer func() {
		s.active.Add(-1)
		s.mx.Lock()
		delete(s.conns, conn)
		s.mx.Unlock()
		conn.Close()
		s.wg.Done()
	}()
	log.Printf("Connection from %s", addr)

	var f Framer
	push := func(p coord.Point) error {
		if err := s.q.Push(s.ctx, p); err != nil {
			return err
		}
		s.records.Add(1)
		return nil
	}

	buf := make([]byte, 32*RecordSize)
	for {
		if s.opt.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.opt.ReadTimeout)); err != nil {
				log.Printf("ERROR: connection from %s: set read deadline: %v", addr, err)
				return
			}
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if _, perr := f.Feed(buf[:n], push); perr != nil {
				if !s.isClosed() {
					log.Printf("ERROR: connection from %s: publish: %v", addr, perr)
				}
				return
			}
		}
		if err == nil {
			continue
		}

		if p := f.Pending(); p > 0 {
			s.dropped.Add(1)
			log.Printf("Connection from %s: dropped %d trailing bytes", addr, p)
		}
		switch {
		case errors.Is(err, io.EOF):
			log.Printf("Connection from %s terminated", addr)
		case errors.Is(err, os.ErrDeadlineExceeded):
			log.Printf("Connection from %s idle for %s, closing", addr, s.opt.ReadTimeout)
		case s.isClosed():
		default:
			log.Printf("ERROR: connection from %s: %v", addr, err)
		}
		return
	}
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Connections: s.connections.Load(),
		Active:      s.active.Load(),
		Records:     s.records.Load(),
		Dropped:     s.dropped.Load(),
	}
}

// Close stops all listeners, closes every connection and waits for their
// goroutines to return. The queue is left open for the consumer to drain.
func (s *Server) Close() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	for l := range s.listeners {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for c := range s.conns {
		c.Close()
	}
	s.mx.Unlock()

	s.wg.Wait()
	return err
}
