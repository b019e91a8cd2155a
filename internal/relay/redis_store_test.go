package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roadsense/internal/testutil"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// Runs against a live server, e.g. REDIS_ADDR=localhost:6379.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	clock := timeutil.NewMockClock(time.Now())
	prefix := "roadsense-test-" + uuid.NewString()

	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Prefix: prefix}, clock, time.Minute)
	require.NoError(t, err)
	defer s.Close()
	defer s.client.Del(ctx, s.indexKey(), s.vehicleKey("v1"), s.vehicleKey("v2"))

	require.NoError(t, s.Put(ctx, testutil.PeerTelemetry("v2", vehicle.Bus, testutil.Lausanne, 30, 45)))
	require.NoError(t, s.Put(ctx, testutil.PeerTelemetry("v1", vehicle.Car, testutil.Lausanne, 50, 90)))

	got, err := s.Active(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v1", got[0].ID)
	assert.Equal(t, vehicle.Bus.Code(), got[1].TypeCode)

	// Active trims by send time on our clock, not by redis key expiry.
	clock.Advance(2 * time.Minute)
	got, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewRedisStore(ctx, RedisOptions{Addr: "127.0.0.1:1"}, nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis 127.0.0.1:1")
}
