// Package scan drives the scanner head through a raster while sampling the
// range sensor, turning each reading into a point.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/coord"
	"github.com/mastercactapus/gscan/tfmini"
)

// ErrBusy is returned when an operation needs the controller to be idle.
var ErrBusy = errors.New("scan: controller busy")

// ErrStopped is returned from Scan after Stop.
var ErrStopped = errors.New("scan: stopped")

// State of the controller.
type State int

const (
	Idle State = iota
	Positioning
	Scanning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Positioning:
		return "positioning"
	case Scanning:
		return "scanning"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Sample is one sensor reading taken during a scan.
type Sample struct {
	Point       coord.Point
	Angles      Angles
	Measurement tfmini.Measurement

	// Valid is false for readings without a usable distance; Point is zero.
	Valid bool
}

// Options configure a Controller. Zero values select defaults.
type Options struct {
	// Retries bounds the read attempts on checksum errors.
	Retries int

	// Backlog is the number of samples buffered ahead of the consumer.
	Backlog int

	// MinStrength marks weaker readings invalid when positive.
	MinStrength int

	// DistanceScale converts sensor distance units to metres.
	DistanceScale float64

	Limits actuator.Limits
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = tfmini.DefaultRetries
	}
	if o.Backlog <= 0 {
		o.Backlog = 64
	}
	if o.DistanceScale == 0 {
		o.DistanceScale = 0.01
	}
	if o.Limits == (actuator.Limits{}) {
		o.Limits = actuator.DefaultLimits
	}
	return o
}

// Status is a snapshot of the controller.
type Status struct {
	State     State  `json:"state"`
	Angles    Angles `json:"angles"`
	ScanID    string `json:"scanId,omitempty"`
	Scans     uint64 `json:"scans"`
	Samples   uint64 `json:"samples"`
	Invalid   uint64 `json:"invalid"`
	LastError string `json:"lastError,omitempty"`
}

// Controller owns the scanner head and the sensor.
type Controller struct {
	axes   actuator.Axes
	sensor tfmini.FrameReader
	opt    Options

	mx      sync.Mutex
	state   State
	scanID  string
	cancel  context.CancelCauseFunc
	lastErr error

	angles angleState

	scans   atomic.Uint64
	samples atomic.Uint64
	invalid atomic.Uint64
}

// NewController creates an idle Controller. The head is assumed at (0, 0).
func NewController(axes actuator.Axes, sensor tfmini.FrameReader, opt Options) *Controller {
	return &Controller{
		axes:   axes,
		sensor: sensor,
		opt:    opt.withDefaults(),
	}
}

func (c *Controller) begin(s State) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.state != Idle {
		return ErrBusy
	}
	c.state = s
	return nil
}

func (c *Controller) setState(s State) {
	c.mx.Lock()
	c.state = s
	c.mx.Unlock()
}

func (c *Controller) moveTo(a Angles) error {
	if err := c.axes.MoveTo(a.Horizontal, a.Vertical); err != nil {
		return err
	}
	c.angles.Store(a)
	return nil
}

// MoveTo points the head at (h, v) degrees. The controller must be idle.
func (c *Controller) MoveTo(h, v float64) error {
	if err := c.opt.Limits.Check(h, v); err != nil {
		return err
	}
	if err := c.begin(Positioning); err != nil {
		return err
	}
	defer c.setState(Idle)
	return c.moveTo(Angles{Horizontal: h, Vertical: v})
}

// Reset returns the head to (0, 0). The controller must be idle.
func (c *Controller) Reset() error {
	if err := c.begin(Positioning); err != nil {
		return err
	}
	defer c.setState(Idle)
	return c.moveTo(Angles{})
}

// Stop cancels a running scan. The sensor read in flight, if any,
// completes first.
func (c *Controller) Stop() {
	c.mx.Lock()
	if c.cancel != nil {
		c.cancel(ErrStopped)
	}
	c.mx.Unlock()
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mx.Lock()
	s := Status{State: c.state, ScanID: c.scanID}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.mx.Unlock()

	s.Angles = c.angles.Load()
	s.Scans = c.scans.Load()
	s.Samples = c.samples.Load()
	s.Invalid = c.invalid.Load()
	return s
}

// Scan runs pattern p in the given order, calling onSample for every sample
// in the order taken. onSample runs on its own goroutine; an error from it
// aborts the scan.
//
// Scan returns once the raster is complete, on the first error, or after
// Stop or ctx cancellation. In every case the head is sent back to (0, 0)
// and the controller is idle again.
func (c *Controller) Scan(ctx context.Context, p Pattern, order SweepOrder, onSample func(Sample) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := p.Within(c.opt.Limits); err != nil {
		return err
	}
	if p.SettleTime == 0 {
		p.SettleTime = DefaultSettleTime
	}

	ctx, cancel := context.WithCancelCause(ctx)
	id := uuid.NewString()
	c.mx.Lock()
	if c.state != Idle {
		c.mx.Unlock()
		cancel(nil)
		return ErrBusy
	}
	// Stop must see the cancel func as soon as the controller is busy
	c.state = Positioning
	c.scanID = id
	c.cancel = cancel
	c.mx.Unlock()
	c.scans.Add(1)

	log.Printf("scan %s: start %s sweep, %d positions", id, order, p.Positions(order))
	started := time.Now()
	before := c.samples.Load()

	err := c.run(ctx, p, order, onSample)
	cancel(nil)

	if homeErr := c.moveTo(Angles{}); homeErr != nil {
		log.Printf("ERROR: scan %s: return home: %v", id, homeErr)
		if err == nil {
			err = homeErr
		}
	}

	c.mx.Lock()
	c.state = Idle
	c.cancel = nil
	c.lastErr = err
	c.mx.Unlock()

	n := c.samples.Load() - before
	if err != nil {
		log.Printf("ERROR: scan %s: %v (%d samples in %s)", id, err, n, time.Since(started).Round(time.Millisecond))
	} else {
		log.Printf("scan %s: done, %d samples in %s", id, n, time.Since(started).Round(time.Millisecond))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Controller) run(ctx context.Context, p Pattern, order SweepOrder, onSample func(Sample) error) error {
	if err := c.moveTo(p.Start()); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	if err := sleep(ctx, p.SettleTime); err != nil {
		return cause(ctx)
	}
	c.setState(Scanning)

	g, gctx := errgroup.WithContext(ctx)
	sampleCtx, stopSampling := context.WithCancel(gctx)
	defer stopSampling()
	samples := make(chan Sample, c.opt.Backlog)

	// motion loop
	g.Go(func() error {
		defer stopSampling()
		return p.Walk(order, func(a Angles, kind StepKind) error {
			if kind == StepStart {
				return nil
			}
			if gctx.Err() != nil {
				return cause(gctx)
			}
			if err := c.moveTo(a); err != nil {
				return fmt.Errorf("move to (%g, %g): %w", a.Horizontal, a.Vertical, err)
			}
			d := p.StepTime
			if kind == StepSlow && p.SlowStepTime > 0 {
				d = p.SlowStepTime
			}
			if sleep(gctx, d) != nil {
				return cause(gctx)
			}
			return nil
		})
	})

	// sampler
	g.Go(func() error {
		defer close(samples)
		for sampleCtx.Err() == nil {
			// drop a stale backlog so the reading matches the current angles
			flush := c.sensor.Available() > 2
			m, err := tfmini.ReadRetry(c.sensor, flush, c.opt.Retries)
			if err != nil {
				return fmt.Errorf("read sensor: %w", err)
			}
			s := c.sample(m)
			select {
			case samples <- s:
			case <-sampleCtx.Done():
			}
		}
		return nil
	})

	// consumer
	g.Go(func() error {
		for s := range samples {
			c.samples.Add(1)
			if !s.Valid {
				c.invalid.Add(1)
			}
			if err := onSample(s); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (c *Controller) sample(m tfmini.Measurement) Sample {
	a := c.angles.Load()
	s := Sample{
		Angles:      a,
		Measurement: m,
		Valid:       m.Valid() && (c.opt.MinStrength <= 0 || m.Strength >= c.opt.MinStrength),
	}
	if !s.Valid {
		return s
	}
	r := float64(m.Distance) * c.opt.DistanceScale
	p := coord.FromSpherical(r, coord.Radians(a.Horizontal), coord.Radians(a.Vertical))
	if !p.IsFinite() {
		s.Valid = false
		return s
	}
	s.Point = p
	return s
}
