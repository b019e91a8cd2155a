package serialmux

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminServer(t *testing.T) (*SerialMux[*TestableSerialPort], *TestableSerialPort, *httptest.Server) {
	t.Helper()
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	hm := http.NewServeMux()
	mux.AttachAdminRoutes(hm)
	srv := httptest.NewServer(hm)
	t.Cleanup(func() {
		srv.Close()
		mux.Close()
	})
	return mux, port, srv
}

func TestAdminRoutes_SendCommandPage(t *testing.T) {
	_, _, srv := newAdminServer(t)
	resp, err := http.Get(srv.URL + "/debug/send-command")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutes_SendCommandAPI(t *testing.T) {
	_, port, srv := newAdminServer(t)

	tests := []struct {
		name       string
		method     string
		command    string
		wantStatus int
		wantWrite  string
	}{
		{name: "bare body is framed", method: http.MethodPost, command: "PMTK220,1000", wantStatus: http.StatusOK, wantWrite: "$PMTK220,1000*1F\r\n"},
		{name: "framed sentence passes through", method: http.MethodPost, command: "$PMTK220,200*2C", wantStatus: http.StatusOK, wantWrite: "$PMTK220,200*2C\r\n"},
		{name: "missing command", method: http.MethodPost, command: "  ", wantStatus: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port.WriteBuffer.Reset()
			form := url.Values{"command": {tt.command}}
			req, err := http.NewRequest(tt.method, srv.URL+"/debug/send-command-api", strings.NewReader(form.Encode()))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantWrite, string(port.GetWrittenData()))
		})
	}
}

func TestAdminRoutes_Tail(t *testing.T) {
	mux, port, srv := newAdminServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)

	// the subscription is registered before the ping is flushed
	port.AddReadData([]byte("$PMTK001,220,3*30\r\n"))

	lines := make(chan string, 8)
	go func() {
		for {
			l, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimRight(l, "\n")
		}
	}()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case l := <-lines:
			if l != "" {
				got = append(got, l)
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"event: ack", "data: $PMTK001,220,3*30"}, got)
}

func TestAdminRoutes_TailJS(t *testing.T) {
	_, _, srv := newAdminServer(t)
	resp, err := http.Get(srv.URL + "/debug/tail.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
}
