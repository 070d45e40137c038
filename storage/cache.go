package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// cache wraps the redis client. A nil client turns every call into a miss.
type cache struct {
	*redis.Client
	log *logger
}

func newCache(conn *redis.Client, log *logger) *cache {
	return &cache{
		Client: conn,
		log:    log,
	}
}

func (c *cache) enabled() bool {
	return c != nil && c.Client != nil
}

// get returns redis.Nil if the key does not exist.
func (c *cache) get(ctx context.Context, key string, value interface{}) error {
	if !c.enabled() {
		return redis.Nil
	}

	str, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(str), value)
}

func (c *cache) set(ctx context.Context, key string, value interface{}, expiration int) error {
	if !c.enabled() {
		return nil
	}

	str, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.log.debug("set() key: %s value: %s", key, string(str))

	return c.Set(ctx, key, str, time.Duration(expiration)*time.Second).Err()
}

func (c *cache) del(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	c.log.debug("del() keys: %v", keys)
	return c.Del(ctx, keys...).Err()
}
