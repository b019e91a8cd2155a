// Package relay implements the HTTP telemetry relay that vehicles without a
// direct radio link use to see each other: POST /send stores a vehicle's
// latest telemetry, GET /receive returns every vehicle heard recently.
package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// DefaultTTL is how long a vehicle stays listed after its last send. It
// matches the peer registry's removal horizon.
const DefaultTTL = 10 * time.Second

// Store retains the latest telemetry per vehicle for a bounded time.
type Store interface {
	Put(ctx context.Context, t vehicle.Telemetry) error
	// Active returns the telemetry of every vehicle still within the TTL,
	// sorted by id.
	Active(ctx context.Context) ([]vehicle.Telemetry, error)
	Close() error
}

type memEntry struct {
	t       vehicle.Telemetry
	expires time.Time
}

// MemoryStore is a process-local Store for a single relay instance.
type MemoryStore struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	ttl     time.Duration
	entries map[string]memEntry
}

// NewMemoryStore creates a MemoryStore. A nil clock uses the wall clock and
// a non-positive ttl uses DefaultTTL.
func NewMemoryStore(clock timeutil.Clock, ttl time.Duration) *MemoryStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{clock: clock, ttl: ttl, entries: make(map[string]memEntry)}
}

func (s *MemoryStore) Put(_ context.Context, t vehicle.Telemetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[t.ID] = memEntry{t: t, expires: s.clock.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Active(_ context.Context) ([]vehicle.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make([]vehicle.Telemetry, 0, len(s.entries))
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			continue
		}
		out = append(out, e.t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of entries held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error { return nil }
