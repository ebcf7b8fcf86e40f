// Package runner connects the scan controller to the point receiver: every
// scan gets a fresh stream connection that carries its valid samples.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mastercactapus/gscan/coord"
	"github.com/mastercactapus/gscan/scan"
	"github.com/mastercactapus/gscan/stream"
)

// Sender delivers points to the receiver.
type Sender interface {
	Send(p coord.Point) error
	Stats() stream.ClientStats
	Close() error
}

// DialFunc opens a Sender for one scan.
type DialFunc func(ctx context.Context) (Sender, error)

// Controller is the part of *scan.Controller used by Runner.
type Controller interface {
	Scan(ctx context.Context, p scan.Pattern, order scan.SweepOrder, onSample func(scan.Sample) error) error
	Stop()
	Reset() error
	MoveTo(h, v float64) error
	Status() scan.Status
}

// Runner starts scans in the background.
type Runner struct {
	c    Controller
	dial DialFunc

	// SendInvalid also streams samples without a usable distance, as the
	// origin point.
	SendInvalid bool

	base stream.ClientStats // totals of finished connections

	mx       sync.Mutex
	running  bool
	stopScan context.CancelCauseFunc // cancels the running scan, dial included
	sender   Sender
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(c Controller, dial DialFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{c: c, dial: dial, ctx: ctx, cancel: cancel}
}

// Start validates p and runs it in the background. It returns
// scan.ErrBusy if a scan is already running.
func (r *Runner) Start(p scan.Pattern, order scan.SweepOrder) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.running || r.c.Status().State != scan.Idle {
		return scan.ErrBusy
	}
	if r.ctx.Err() != nil {
		return errors.New("runner: closed")
	}
	ctx, stopScan := context.WithCancelCause(r.ctx)
	r.running = true
	r.stopScan = stopScan
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Run(ctx, p, order); err != nil && !errors.Is(err, scan.ErrStopped) {
			log.Println("ERROR: scan:", err)
		}
		stopScan(nil)
		r.mx.Lock()
		r.running = false
		r.stopScan = nil
		r.mx.Unlock()
	}()
	return nil
}

// Run dials the receiver and scans p, blocking until the scan ends.
func (r *Runner) Run(ctx context.Context, p scan.Pattern, order scan.SweepOrder) error {
	s, err := r.dial(ctx)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return fmt.Errorf("connect to receiver: %w", err)
	}
	r.mx.Lock()
	r.sender = s
	r.mx.Unlock()

	defer func() {
		r.mx.Lock()
		st := s.Stats()
		r.base.Points += st.Points
		r.base.Bytes += st.Bytes
		r.sender = nil
		r.mx.Unlock()
		if err := s.Close(); err != nil {
			log.Println("ERROR: close stream:", err)
		}
	}()

	return r.c.Scan(ctx, p, order, func(smp scan.Sample) error {
		if !smp.Valid && !r.SendInvalid {
			return nil
		}
		return s.Send(smp.Point)
	})
}

// Stats is the total sent over all connections so far.
func (r *Runner) Stats() stream.ClientStats {
	r.mx.Lock()
	defer r.mx.Unlock()
	st := r.base
	if r.sender != nil {
		cur := r.sender.Stats()
		st.Points += cur.Points
		st.Bytes += cur.Bytes
	}
	return st
}

// Stop ends the running scan, including one still connecting to the
// receiver.
func (r *Runner) Stop() {
	r.mx.Lock()
	if r.stopScan != nil {
		r.stopScan(scan.ErrStopped)
	}
	r.mx.Unlock()
	r.c.Stop()
}

func (r *Runner) Reset() error              { return r.c.Reset() }
func (r *Runner) MoveTo(h, v float64) error { return r.c.MoveTo(h, v) }
func (r *Runner) Status() scan.Status       { return r.c.Status() }

// Close stops a running scan and waits for it to return.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
