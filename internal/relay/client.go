package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/roadsense/internal/httputil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// maxReceiveBody bounds a /receive response.
const maxReceiveBody = 1 << 20

// Client talks to a relay server. It implements engine.TelemetryPublisher and
// engine.PeerSource.
type Client struct {
	base    string
	http    httputil.HTTPClient
	timeout time.Duration
}

// NewClient creates a client for the relay at addr, which may be a bare
// host:port as configured on deployed units or a full http(s) URL. A nil
// httpClient gets a plain client with the request timeout.
func NewClient(addr string, httpClient httputil.HTTPClient) *Client {
	const timeout = 5 * time.Second
	if httpClient == nil {
		httpClient = httputil.NewClient(timeout)
	}
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{base: base, http: httpClient, timeout: timeout}
}

// BaseURL returns the normalised relay URL.
func (c *Client) BaseURL() string { return c.base }

// Publish sends our telemetry with POST /send.
func (c *Client) Publish(ctx context.Context, t vehicle.Telemetry) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send telemetry: %w", err)
	}
	if _, err := httputil.ReadResponse(resp, http.StatusOK, 4096); err != nil {
		return fmt.Errorf("send telemetry: %w", err)
	}
	return nil
}

// Receive fetches the current peer payload with GET /receive. The raw body
// is returned for the engine to validate.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/receive", nil)
	if err != nil {
		return nil, fmt.Errorf("build receive request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("receive peers: %w", err)
	}
	body, err := httputil.ReadResponse(resp, http.StatusOK, maxReceiveBody)
	if err != nil {
		return nil, fmt.Errorf("receive peers: %w", err)
	}
	return body, nil
}
