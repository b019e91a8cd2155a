package httputil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockHTTPClient(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"status":"ok"}`).
		AddErrorResponse(errors.New("connection refused"))

	req, err := http.NewRequest(http.MethodPost, "http://relay/send", bytes.NewBufferString(`{"i":"v1"}`))
	require.NoError(t, err)
	resp, err := mock.Do(req)
	require.NoError(t, err)
	body, err := ReadResponse(resp, http.StatusOK, 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, string(body))

	assert.Equal(t, `{"i":"v1"}`, mock.RequestBody(0))
	replay, err := io.ReadAll(mock.GetRequest(0).Body)
	require.NoError(t, err)
	assert.Equal(t, `{"i":"v1"}`, string(replay), "body is still readable after capture")

	req, _ = http.NewRequest(http.MethodGet, "http://relay/receive", nil)
	_, err = mock.Do(req)
	assert.EqualError(t, err, "connection refused")

	resp, err = mock.Do(req)
	require.NoError(t, err, "exhausted queue falls back to 200")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 3, mock.RequestCount())
	assert.Nil(t, mock.GetRequest(3))
	assert.Empty(t, mock.RequestBody(-1))
}

func TestReadResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer ts.Close()
	c := NewClient(time.Second)

	resp, err := c.Get(ts.URL + "/ok")
	require.NoError(t, err)
	body, err := ReadResponse(resp, http.StatusOK, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(body), "truncated at the limit")

	resp, err = c.Get(ts.URL + "/missing")
	require.NoError(t, err)
	_, err = ReadResponse(resp, http.StatusOK, 4)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.Contains(t, err.Error(), "status 503")
}
