package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server. Every key is stored under
// Namespace so several deployments can share one database.
type Redis struct {
	client    redis.UniversalClient
	namespace string
}

// RedisOptions configures the Redis store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Namespace prefixes every key. Default "ruvo".
	Namespace string

	// Client overrides Addr/Password/DB when set.
	Client redis.UniversalClient
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := opts.Client
	if client == nil {
		if opts.Addr == "" {
			return nil, errors.New("kv: redis addr is required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "ruvo"
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: redis ping: %w", err)
	}
	return &Redis{client: client, namespace: ns}, nil
}

func (r *Redis) key(k Key) string {
	return r.namespace + Separator + k.String()
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key Key, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key Key) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) List(ctx context.Context, prefix Key) ([]Entry, error) {
	base := r.namespace + Separator
	match := base + prefixOf(prefix) + "*"

	var keys []string
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(keys))
	for i, k := range keys {
		s, ok := vals[i].(string)
		if !ok {
			// Deleted between SCAN and MGET.
			continue
		}
		out = append(out, Entry{
			Key:   ParseKey(strings.TrimPrefix(k, base)),
			Value: []byte(s),
		})
	}
	sortEntries(out)
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
