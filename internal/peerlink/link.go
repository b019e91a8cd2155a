package peerlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// DefaultPort is the UDP port vehicles broadcast on.
const DefaultPort = 47800

const (
	maxDatagram  = 2048
	maxPending   = 256
	readDeadline = 100 * time.Millisecond
)

// Stats counts link traffic.
type Stats struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Polls    int64 `json:"polls"`
}

// Listener collects telemetry datagrams between polls. It implements
// engine.PeerSource: each Receive drains the latest datagram per vehicle as
// one JSON array, so UDP peers go through the same validation and
// empty-report policy as relay peers.
type Listener struct {
	sock     UDPSocket
	clock    timeutil.Clock
	recorder *Recorder
	errLog   *monitoring.Throttle

	mu      sync.Mutex
	pending map[string]json.RawMessage
	stats   Stats
}

// NewListener wraps sock. recorder may be nil.
func NewListener(sock UDPSocket, clock timeutil.Clock, recorder *Recorder) *Listener {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Listener{
		sock:     sock,
		clock:    clock,
		recorder: recorder,
		pending:  make(map[string]json.RawMessage),
		errLog:   monitoring.NewThrottle(10*time.Second, clock.Now),
	}
}

// Run reads datagrams until ctx is cancelled or the socket is closed.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.sock.SetReadBuffer(1 << 16); err != nil {
		monitoring.Logf("peerlink: failed to set receive buffer: %v", err)
	}
	monitoring.Logf("peerlink: listening on %s", l.sock.LocalAddr())

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = l.sock.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := l.sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			l.errLog.Logf("peerlink: read error: %v", err)
			continue
		}
		l.handle(buf[:n], addr)
	}
}

func (l *Listener) handle(datagram []byte, addr *net.UDPAddr) {
	if l.recorder != nil {
		if err := l.recorder.Record(l.clock.Now(), addr, datagram); err != nil {
			monitoring.Logf("peerlink: capture write failed: %v", err)
		}
	}

	var head struct {
		ID string `json:"i"`
	}
	trimmed := bytes.TrimSpace(datagram)
	if err := json.Unmarshal(trimmed, &head); err != nil || head.ID == "" {
		l.mu.Lock()
		l.stats.Dropped++
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pending[head.ID]; !ok && len(l.pending) >= maxPending {
		l.stats.Dropped++
		return
	}
	l.pending[head.ID] = append(json.RawMessage(nil), trimmed...)
	l.stats.Received++
}

// Receive returns the datagrams collected since the previous call, newest
// per vehicle, as a JSON array sorted by vehicle id.
func (l *Listener) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	batch := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		batch[i] = l.pending[id]
	}
	clear(l.pending)
	l.stats.Polls++
	l.mu.Unlock()

	return json.Marshal(batch)
}

// Stats returns the traffic counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Broadcaster publishes our telemetry as one datagram per call. It
// implements engine.TelemetryPublisher.
type Broadcaster struct {
	sock UDPSocket
	dest *net.UDPAddr

	mu   sync.Mutex
	sent int64
}

// NewBroadcaster sends to dest, typically "255.255.255.255:47800" or the
// subnet broadcast address.
func NewBroadcaster(sock UDPSocket, dest string) (*Broadcaster, error) {
	addr, err := net.ResolveUDPAddr("udp4", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address %q: %w", dest, err)
	}
	return &Broadcaster{sock: sock, dest: addr}, nil
}

func (b *Broadcaster) Publish(ctx context.Context, t vehicle.Telemetry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	if _, err := b.sock.WriteToUDP(payload, b.dest); err != nil {
		return fmt.Errorf("broadcast to %s: %w", b.dest, err)
	}
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	return nil
}

// Sent returns the number of datagrams published.
func (b *Broadcaster) Sent() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}
