package spjs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer echoes every sendjson payload back as port data.
func fakeServer(t *testing.T, cmds chan<- string) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			cmds <- string(data)

			// the server echoes commands as plain text
			ws.WriteMessage(websocket.TextMessage, data)
			if !strings.HasPrefix(string(data), "sendjson ") {
				continue
			}
			var v JSON
			if err := json.Unmarshal(data[len("sendjson "):], &v); err != nil {
				t.Error(err)
				return
			}
			ws.WriteJSON(DataFrame{Port: "/dev/other", Data: "noise"})
			ws.WriteJSON(map[string]interface{}{"Cmd": "Queued", "QCnt": 1, "D": []string{"x"}})
			for _, d := range v.Data {
				ws.WriteJSON(DataFrame{Port: v.Port, Data: strings.ToUpper(d.Data)})
			}
		}
	}))
}

func TestPort(t *testing.T) {
	cmds := make(chan string, 10)
	srv := fakeServer(t, cmds)
	defer srv.Close()

	p, err := Open("ws"+strings.TrimPrefix(srv.URL, "http"), "/dev/ttyUSB0", 115200)
	require.NoError(t, err)
	assert.Equal(t, "open /dev/ttyUSB0 115200", <-cmds)

	n, err := p.Write([]byte("ok\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, <-cmds, `sendjson {"P":"/dev/ttyUSB0","Data":[{"D":"ok\n"`)

	buf := make([]byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err = p.Read(buf)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no data")
	}
	require.NoError(t, err)
	assert.Equal(t, "OK\n", string(buf[:n]))

	require.NoError(t, p.ResetInputBuffer())
	require.NoError(t, p.Close())
	assert.Equal(t, "close /dev/ttyUSB0", <-cmds)

	_, err = p.Read(buf)
	assert.Equal(t, ErrClosed, err)
	_, err = p.Write([]byte("x"))
	assert.Equal(t, ErrClosed, err)
}

func TestParseMessage(t *testing.T) {
	v, err := parseMessage([]byte(`{"Error":"port busy"}`))
	require.NoError(t, err)
	assert.Equal(t, &ErrorMessage{Error: "port busy"}, v)

	v, err = parseMessage([]byte(`{"SerialPorts":[{"Name":"/dev/ttyUSB0","IsOpen":true,"Baud":115200}]}`))
	require.NoError(t, err)
	assert.Equal(t, &SerialPortList{SerialPorts: []SerialPort{{Name: "/dev/ttyUSB0", IsOpen: true, Baud: 115200}}}, v)

	v, err = parseMessage([]byte(`{"Cmd":"Complete","Id":"x"}`))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseMessage([]byte(`{"Version":"1.96"}`))
	assert.Error(t, err)
	_, err = parseMessage([]byte(`{`))
	assert.Error(t, err)
}
