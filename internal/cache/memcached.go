package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached implements Cache against a memcached cluster. Values are stored
// as JSON under a per-cache key prefix so the data and forecast caches never
// collide. Expiry is enforced server-side by memcached.
type Memcached[V any] struct {
	client *memcache.Client
	prefix string
}

// NewMemcached creates a memcached-backed cache. addrs is a comma-separated
// server list (e.g. "localhost:11211" or "host1:11211,host2:11211"); timeout
// and maxIdleConns use client defaults when zero.
func NewMemcached[V any](prefix, addrs string, timeout time.Duration, maxIdleConns int) (*Memcached[V], error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &Memcached[V]{client: client, prefix: prefix + ":"}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on
// transport or decode errors.
func (c *Memcached[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.client.Get(c.prefix + key)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return zero, false, nil
		}
		return zero, false, err
	}
	var value V
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return zero, false, err
	}
	return value, true, nil
}

// Put implements Cache.Put.
func (c *Memcached[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.prefix + key,
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *Memcached[V]) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *Memcached[V]) Close() error {
	return c.client.Close()
}
