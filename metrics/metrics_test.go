package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gscan/scan"
	"github.com/mastercactapus/gscan/stream"
	"github.com/mastercactapus/gscan/tfmini"
)

type sensorStats tfmini.Stats

func (s sensorStats) Stats() tfmini.Stats { return tfmini.Stats(s) }

type scannerStatus scan.Status

func (s scannerStatus) Status() scan.Status { return scan.Status(s) }

type serverStats stream.ServerStats

func (s serverStats) Stats() stream.ServerStats { return stream.ServerStats(s) }

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(data)
}

func TestMetrics(t *testing.T) {
	m := New()
	m.Sensor(sensorStats{Frames: 42, ChecksumErrors: 3})
	m.Scanner(scannerStatus{State: scan.Scanning, Samples: 7, Angles: scan.Angles{Horizontal: -12.5}})
	m.Sender(func() stream.ClientStats { return stream.ClientStats{Points: 5, Bytes: 120} })
	m.Receiver(serverStats{Connections: 2, Active: 1, Records: 9}, stream.NewQueue(8))

	out := scrape(t, m.Handler())
	assert.Contains(t, out, "gscan_sensor_frames_total 42")
	assert.Contains(t, out, "gscan_sensor_checksum_errors_total 3")
	assert.Contains(t, out, "gscan_scanner_state 2")
	assert.Contains(t, out, "gscan_scanner_horizontal_degrees -12.5")
	assert.Contains(t, out, "gscan_sender_bytes_total 120")
	assert.Contains(t, out, "gscan_receiver_connections_active 1")
	assert.Contains(t, out, "gscan_receiver_queue_capacity 8")
}

func TestMetrics_WrapHandler(t *testing.T) {
	m := New()
	h := m.WrapHandler("/api/stop", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusConflict)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/stop", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	out := scrape(t, m.Handler())
	assert.Contains(t, out, `gscan_http_requests_total{route="/api/stop",status="409"} 1`)
}
