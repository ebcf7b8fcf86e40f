// Package metrics exposes the running counters of the scanner and receiver
// to Prometheus.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mastercactapus/gscan/scan"
	"github.com/mastercactapus/gscan/stream"
	"github.com/mastercactapus/gscan/tfmini"
)

const namespace = "gscan"

// Metrics owns a registry with HTTP metrics and any attached components.
type Metrics struct {
	reg *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) counter(sub, name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: sub, Name: name, Help: help,
	}, fn)
}

func (m *Metrics) gauge(sub, name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: sub, Name: name, Help: help,
	}, fn)
}

// Sensor reports frame counters of s.
func (m *Metrics) Sensor(s interface{ Stats() tfmini.Stats }) {
	m.reg.MustRegister(
		m.counter("sensor", "frames_total", "Frames decoded.", func() float64 { return float64(s.Stats().Frames) }),
		m.counter("sensor", "checksum_errors_total", "Frames rejected for a bad checksum.", func() float64 { return float64(s.Stats().ChecksumErrors) }),
		m.counter("sensor", "discarded_bytes_total", "Bytes dropped while resynchronizing or on overflow.", func() float64 { return float64(s.Stats().Discarded) }),
	)
}

// Scanner reports the state and sample counters of c.
func (m *Metrics) Scanner(c interface{ Status() scan.Status }) {
	m.reg.MustRegister(
		m.gauge("scanner", "state", "Controller state (0 idle, 1 positioning, 2 scanning).", func() float64 { return float64(c.Status().State) }),
		m.gauge("scanner", "horizontal_degrees", "Current horizontal angle.", func() float64 { return c.Status().Angles.Horizontal }),
		m.gauge("scanner", "vertical_degrees", "Current vertical angle.", func() float64 { return c.Status().Angles.Vertical }),
		m.counter("scanner", "scans_total", "Scans started.", func() float64 { return float64(c.Status().Scans) }),
		m.counter("scanner", "samples_total", "Samples taken.", func() float64 { return float64(c.Status().Samples) }),
		m.counter("scanner", "invalid_samples_total", "Samples without a usable distance.", func() float64 { return float64(c.Status().Invalid) }),
	)
}

// Sender reports the totals of every point stream client, across reconnects.
func (m *Metrics) Sender(stats func() stream.ClientStats) {
	m.reg.MustRegister(
		m.counter("sender", "points_total", "Points sent to the receiver.", func() float64 { return float64(stats().Points) }),
		m.counter("sender", "bytes_total", "Bytes sent to the receiver.", func() float64 { return float64(stats().Bytes) }),
	)
}

// Receiver reports the counters of srv and the depth of q.
func (m *Metrics) Receiver(srv interface{ Stats() stream.ServerStats }, q *stream.Queue) {
	m.reg.MustRegister(
		m.counter("receiver", "connections_total", "Connections accepted.", func() float64 { return float64(srv.Stats().Connections) }),
		m.gauge("receiver", "connections_active", "Connections currently open.", func() float64 { return float64(srv.Stats().Active) }),
		m.counter("receiver", "records_total", "Records decoded and queued.", func() float64 { return float64(srv.Stats().Records) }),
		m.counter("receiver", "partial_records_total", "Connections that ended inside a record.", func() float64 { return float64(srv.Stats().Dropped) }),
		m.gauge("receiver", "queue_length", "Points waiting for the consumer.", func() float64 { return float64(q.Len()) }),
		m.gauge("receiver", "queue_capacity", "Capacity of the point queue.", func() float64 { return float64(q.Cap()) }),
	)
}

// Register adds arbitrary collectors.
func (m *Metrics) Register(cs ...prometheus.Collector) { m.reg.MustRegister(cs...) }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush and Hijack pass through for event streams and websockets.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// WrapHandler records the request count and duration of next under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
