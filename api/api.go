// Package api serves the HTTP control surface of the scanner and the live
// point feed of the receiver.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/metrics"
	"github.com/mastercactapus/gscan/scan"
)

// Scanner is what the API drives.
type Scanner interface {
	Start(p scan.Pattern, order scan.SweepOrder) error
	Stop()
	Reset() error
	MoveTo(h, v float64) error
	Status() scan.Status
}

// Options configure the API.
type Options struct {
	// Pattern and Order are used for parameters a scan request leaves out.
	Pattern scan.Pattern
	Order   scan.SweepOrder

	// StateInterval is how often state is pushed to SSE subscribers.
	StateInterval time.Duration

	// Metrics, if set, instruments the routes and serves /metrics.
	Metrics *metrics.Metrics
}

type API struct {
	http.Handler
	s   Scanner
	opt Options
	sse *sse.Server

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(s Scanner, opt Options) *API {
	if opt.StateInterval <= 0 {
		opt.StateInterval = 500 * time.Millisecond
	}
	r := mux.NewRouter()
	a := &API{
		Handler: r,
		s:       s,
		opt:     opt,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		done: make(chan struct{}),
	}

	route := func(path string, h http.HandlerFunc) *mux.Route {
		return r.Handle(path, opt.Metrics.WrapHandler(path, h))
	}
	route("/api/scan", a.scan).Methods("POST")
	route("/api/stop", a.stop).Methods("POST")
	route("/api/reset", a.reset).Methods("POST")
	route("/api/move", a.move).Methods("POST")
	route("/api/state", a.state).Methods("GET")
	r.PathPrefix("/events/").Handler(a.sse)
	if opt.Metrics != nil {
		r.Handle("/metrics", opt.Metrics.Handler())
	}

	a.wg.Add(1)
	go a.pushState()
	return a
}

// Close stops the state push and disconnects SSE clients.
func (a *API) Close() {
	a.once.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.sse.Shutdown()
	})
}

func (a *API) pushState() {
	defer a.wg.Done()
	t := time.NewTicker(a.opt.StateInterval)
	defer t.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-t.C:
		}
		data, err := json.Marshal(a.s.Status())
		if err != nil {
			log.Printf("ERROR: marshal json: %+v", err)
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
	}
}

func httpStatus(err error) int {
	var ce *scan.ConfigError
	switch {
	case errors.Is(err, scan.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &ce), errors.Is(err, actuator.ErrOutOfRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		log.Printf("ERROR: %s: %+v", op, err)
	}
	http.Error(w, err.Error(), code)
}

func (a *API) writeState(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(a.s.Status()); err != nil {
		log.Println("ERROR: encode:", err)
	}
}

// formParser reads optional numeric form values, keeping the first error.
type formParser struct {
	req *http.Request
	err error
}

func (p *formParser) float(param string, val *float64) {
	s := p.req.FormValue(param)
	if p.err != nil || s == "" {
		return
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = &scan.ConfigError{Field: param, Reason: "is not a number"}
		return
	}
	*val = f
}

// duration accepts Go durations ("250ms") or plain milliseconds.
func (p *formParser) duration(param string, val *time.Duration) {
	s := p.req.FormValue(param)
	if p.err != nil || s == "" {
		return
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		*val = time.Duration(ms * float64(time.Millisecond))
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		p.err = &scan.ConfigError{Field: param, Reason: "is not a duration"}
		return
	}
	*val = d
}

func (a *API) scan(w http.ResponseWriter, req *http.Request) {
	pat := a.opt.Pattern
	order := a.opt.Order

	p := &formParser{req: req}
	p.float("hStart", &pat.Horizontal.Start)
	p.float("hStop", &pat.Horizontal.Stop)
	p.float("vStart", &pat.Vertical.Start)
	p.float("vStop", &pat.Vertical.Stop)
	p.float("hStep", &pat.HStep)
	p.float("vStep", &pat.VStep)
	p.duration("stepTime", &pat.StepTime)
	p.duration("slowStepTime", &pat.SlowStepTime)
	p.duration("settleTime", &pat.SettleTime)
	if p.err == nil && req.FormValue("order") != "" {
		order, p.err = scan.ParseSweepOrder(req.FormValue("order"))
	}
	if p.err != nil {
		a.fail(w, "scan", p.err)
		return
	}

	if err := a.s.Start(pat, order); err != nil {
		a.fail(w, "scan", err)
		return
	}
	a.writeState(w, http.StatusAccepted)
}

func (a *API) stop(w http.ResponseWriter, req *http.Request) {
	a.s.Stop()
	a.writeState(w, http.StatusOK)
}

func (a *API) reset(w http.ResponseWriter, req *http.Request) {
	if err := a.s.Reset(); err != nil {
		a.fail(w, "reset", err)
		return
	}
	a.writeState(w, http.StatusOK)
}

func (a *API) move(w http.ResponseWriter, req *http.Request) {
	var h, v float64
	p := &formParser{req: req}
	if req.FormValue("h") == "" || req.FormValue("v") == "" {
		http.Error(w, "h and v are required", http.StatusBadRequest)
		return
	}
	p.float("h", &h)
	p.float("v", &v)
	if p.err != nil {
		a.fail(w, "move", p.err)
		return
	}
	if err := a.s.MoveTo(h, v); err != nil {
		a.fail(w, "move", err)
		return
	}
	a.writeState(w, http.StatusOK)
}

func (a *API) state(w http.ResponseWriter, req *http.Request) {
	a.writeState(w, http.StatusOK)
}
