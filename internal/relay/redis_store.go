package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

// RedisOptions configures the connection used by RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "roadsense".
	Prefix string
}

// RedisStore shares vehicle telemetry between relay instances. Each vehicle
// is a string key expiring after the TTL; a sorted set scored by send time
// indexes them so Active needs no SCAN.
type RedisStore struct {
	client *redis.Client
	clock  timeutil.Clock
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions, clock timeutil.Clock, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return newRedisStore(client, opts.Prefix, clock, ttl), nil
}

func newRedisStore(client *redis.Client, prefix string, clock timeutil.Clock, ttl time.Duration) *RedisStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "roadsense"
	}
	return &RedisStore{client: client, clock: clock, ttl: ttl, prefix: prefix}
}

func (s *RedisStore) vehicleKey(id string) string { return s.prefix + ":vehicle:" + id }
func (s *RedisStore) indexKey() string            { return s.prefix + ":vehicles" }

func (s *RedisStore) Put(ctx context.Context, t vehicle.Telemetry) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	nowMs := s.clock.Now().UnixMilli()

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.vehicleKey(t.ID), payload, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(nowMs), Member: t.ID})
	pipe.Expire(ctx, s.indexKey(), 2*s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Active(ctx context.Context) ([]vehicle.Telemetry, error) {
	cutoff := s.clock.Now().Add(-s.ttl).UnixMilli()
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, fmt.Errorf("trim vehicle index: %w", err)
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read vehicle index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.vehicleKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read vehicles: %w", err)
	}

	out := make([]vehicle.Telemetry, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // expired between the index read and MGET
		}
		var t vehicle.Telemetry
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			monitoring.Logf("relay: skipping corrupt entry %s: %v", keys[i], err)
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
