package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"marketfeed/internal/market"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "marketfeed:klines:"

// Store keeps each month key as a Redis list of JSON encoded klines.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New connects and pings Redis.
func New(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, prefix), nil
}

func NewWithClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

// Save appends the klines to the key's list in one round trip.
func (s *Store) Save(ctx context.Context, key string, klines []market.Kline) error {
	if len(klines) == 0 {
		return nil
	}
	members := make([]any, 0, len(klines))
	for _, k := range klines {
		b, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("encode kline %d: %w", k.OpenTime, err)
		}
		members = append(members, b)
	}
	if err := s.rdb.RPush(ctx, s.key(key), members...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// Load returns the whole list for key in insertion order, or nil when the key is absent.
func (s *Store) Load(ctx context.Context, key string) ([]market.Kline, error) {
	raw, err := s.rdb.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]market.Kline, 0, len(raw))
	for i, r := range raw {
		var k market.Kline
		if err := json.Unmarshal([]byte(r), &k); err != nil {
			return nil, fmt.Errorf("decode %s[%d]: %w", key, i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// Health checks the connection.
func (s *Store) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
