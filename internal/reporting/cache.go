package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "debtbook:reports:version"
	// BumpChannel carries the new version after every committed mutation.
	BumpChannel = "debtbook:reports:bump"
)

// Cache keeps computed reports in Redis under versioned keys. A nil Cache or
// one without a client computes every value directly.
//
// While ListenForInvalidation is subscribed the version is mirrored in
// process, so building a key costs no round trip.
type Cache struct {
	client    *redis.Client
	ttl       time.Duration
	listening atomic.Bool
	version   atomic.Int64
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if c.listening.Load() {
		if v := c.version.Load(); v > 0 {
			return v, nil
		}
	}
	return c.remoteVersion(ctx)
}

func (c *Cache) remoteVersion(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// Concurrent first readers must agree on the initial version.
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return max(ver, 1), nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("reporting: cache loader required")
	}
	if c != nil && c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c != nil && c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every cached report by moving to a new version and
// publishing it.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	c.observe(ver)
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation mirrors every version published on the bump channel
// and calls onBump for it until ctx is done. When the subscription ends the
// mirror is dropped and versions are read from Redis again.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("reporting: subscribe: %w", err)
	}
	// Subscribed first, so no bump after this read can be missed.
	current, err := c.remoteVersion(ctx)
	if err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("reporting: read version: %w", err)
	}
	c.version.Store(current)
	c.listening.Store(true)
	go func() {
		defer func() {
			c.listening.Store(false)
			c.version.Store(0)
			_ = pubsub.Close()
		}()
		ch := pubsub.Channel()
		// Messages lost across a reconnect are picked up here.
		resync := time.NewTicker(c.ttl)
		defer resync.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-resync.C:
				if ver, err := c.remoteVersion(ctx); err == nil {
					c.observe(ver)
				}
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					continue
				}
				c.observe(ver)
				if onBump != nil {
					onBump(ver)
				}
			}
		}
	}()
	return nil
}

// observe raises the mirrored version; versions arrive out of order across
// instances and never move backwards.
func (c *Cache) observe(ver int64) {
	if !c.listening.Load() {
		return
	}
	for {
		cur := c.version.Load()
		if ver <= cur || c.version.CompareAndSwap(cur, ver) {
			return
		}
	}
}
