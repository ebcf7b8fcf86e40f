package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/gscan/actuator"
	"github.com/mastercactapus/gscan/coord"
	"github.com/mastercactapus/gscan/metrics"
	"github.com/mastercactapus/gscan/scan"
)

type fakeScanner struct {
	mx      sync.Mutex
	status  scan.Status
	pattern scan.Pattern
	order   scan.SweepOrder
	stopped bool
	err     error
}

func (f *fakeScanner) Start(p scan.Pattern, order scan.SweepOrder) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if err := p.Validate(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.pattern, f.order = p, order
	f.status.State = scan.Scanning
	return nil
}

func (f *fakeScanner) Stop() {
	f.mx.Lock()
	f.stopped = true
	f.status.State = scan.Idle
	f.mx.Unlock()
}

func (f *fakeScanner) Reset() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.err != nil {
		return f.err
	}
	f.status.Angles = scan.Angles{}
	return nil
}

func (f *fakeScanner) MoveTo(h, v float64) error {
	if err := actuator.DefaultLimits.Check(h, v); err != nil {
		return err
	}
	f.mx.Lock()
	f.status.Angles = scan.Angles{Horizontal: h, Vertical: v}
	f.mx.Unlock()
	return nil
}

func (f *fakeScanner) Status() scan.Status {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.status
}

var defaultPattern = scan.Pattern{
	Horizontal: scan.Range{Start: -90, Stop: 90}, HStep: 1,
	Vertical: scan.Range{Start: 0, Stop: 90}, VStep: 1,
	StepTime: 20 * time.Millisecond,
}

func newTestAPI(t *testing.T, s Scanner) *API {
	a := New(s, Options{Pattern: defaultPattern, StateInterval: 5 * time.Millisecond, Metrics: metrics.New()})
	t.Cleanup(a.Close)
	return a
}

func do(a http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestAPI_Scan(t *testing.T) {
	s := &fakeScanner{}
	a := newTestAPI(t, s)

	rec := do(a, "POST", "/api/scan?hStart=-10&hStop=10&hStep=10&stepTime=250ms&settleTime=1500&order=vertical")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var st map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "scanning", st["state"])

	assert.Equal(t, scan.Range{Start: -10, Stop: 10}, s.pattern.Horizontal)
	assert.Equal(t, scan.Range{Start: 0, Stop: 90}, s.pattern.Vertical)
	assert.Equal(t, 10.0, s.pattern.HStep)
	assert.Equal(t, 250*time.Millisecond, s.pattern.StepTime)
	assert.Equal(t, 1500*time.Millisecond, s.pattern.SettleTime)
	assert.Equal(t, scan.VerticalPrimary, s.order)
}

func TestAPI_ScanErrors(t *testing.T) {
	s := &fakeScanner{}
	a := newTestAPI(t, s)

	assert.Equal(t, http.StatusBadRequest, do(a, "POST", "/api/scan?hStep=abc").Code)
	assert.Equal(t, http.StatusBadRequest, do(a, "POST", "/api/scan?vStep=0").Code)
	assert.Equal(t, http.StatusBadRequest, do(a, "POST", "/api/scan?order=sideways").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(a, "GET", "/api/scan").Code)

	s.err = scan.ErrBusy
	assert.Equal(t, http.StatusConflict, do(a, "POST", "/api/scan").Code)
	assert.Equal(t, http.StatusConflict, do(a, "POST", "/api/reset").Code)

	s.err = fmt.Errorf("grbl: %w", actuator.ErrOutOfRange)
	assert.Equal(t, http.StatusBadRequest, do(a, "POST", "/api/reset").Code)
}

func TestAPI_MoveResetStop(t *testing.T) {
	s := &fakeScanner{}
	a := newTestAPI(t, s)

	rec := do(a, "POST", "/api/move?h=12.5&v=30")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, scan.Angles{Horizontal: 12.5, Vertical: 30}, s.Status().Angles)

	assert.Equal(t, http.StatusBadRequest, do(a, "POST", "/api/move?h=500&v=0").Code)
	assert.Equal(t, http.StatusBadRequest, do(a, "POST", "/api/move?h=1").Code)

	require.Equal(t, http.StatusOK, do(a, "POST", "/api/reset").Code)
	assert.Equal(t, scan.Angles{}, s.Status().Angles)

	require.Equal(t, http.StatusOK, do(a, "POST", "/api/stop").Code)
	assert.True(t, s.stopped)

	rec = do(a, "GET", "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)

	rec = do(a, "GET", "/metrics")
	assert.Contains(t, rec.Body.String(), `gscan_http_requests_total{route="/api/move",status="400"} 2`)
}

func TestAPI_Events(t *testing.T) {
	s := &fakeScanner{status: scan.Status{Scans: 3}}
	srv := httptest.NewServer(newTestAPI(t, s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended")
			if strings.HasPrefix(line, "data: ") {
				var st struct {
					State string `json:"state"`
					Scans uint64 `json:"scans"`
				}
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st))
				assert.Equal(t, "idle", st.State)
				assert.Equal(t, uint64(3), st.Scans)
				return
			}
		case <-timeout:
			t.Fatal("no state event")
		}
	}
}

func TestFeed(t *testing.T) {
	f := NewFeed()
	srv := httptest.NewServer(f)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return f.Clients() == 1 }, time.Second, time.Millisecond)
	f.Publish(coord.Point{X: 1, Y: 2, Z: -3})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var p feedPoint
	require.NoError(t, ws.ReadJSON(&p))
	assert.Equal(t, feedPoint{X: 1, Y: 2, Z: -3}, p)

	f.Close()
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
	assert.Equal(t, 0, f.Clients())
}
