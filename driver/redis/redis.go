// Package redis implements driver.RemoteDriver over Redis via
// github.com/redis/go-redis/v9's UniversalClient, the same client
// abstraction used for Redis-backed remote caches and pub/sub backplanes.
package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"time"
)

// Driver is an L2 storage tier backed by Redis. All keys are namespaced
// under Prefix so multiple CacheStacks can share one Redis instance
// without colliding, and so Clear can scope itself to just this driver's
// keys instead of flushing the whole database.
type Driver struct {
	client goredis.UniversalClient
	prefix string
}

// New wraps client, namespacing every key under prefix (e.g. "tiercache:").
func New(client goredis.UniversalClient, prefix string) *Driver {
	return &Driver{client: client, prefix: prefix}
}

func (d *Driver) key(k string) string { return d.prefix + k }

func (d *Driver) Connect(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *Driver) Disconnect(ctx context.Context) error {
	return d.client.Close()
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := d.client.Get(ctx, d.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (d *Driver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.client.Set(ctx, d.key(key), value, ttl).Err()
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.key(key)).Err()
}

func (d *Driver) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = d.key(k)
	}
	n, err := d.client.Del(ctx, namespaced...).Result()
	return int(n), err
}

func (d *Driver) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = d.key(k)
	}
	values, err := d.client.MGet(ctx, namespaced...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

func (d *Driver) Has(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(key)).Result()
	return n > 0, err
}

// Clear removes every key under this driver's prefix, scanning in batches
// so a large keyspace never blocks Redis with a single KEYS call.
func (d *Driver) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := d.prefix + "*"
	for {
		keys, next, err := d.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := d.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
