package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a byte-value cache on Redis with a fixed TTL per entry.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

type Options struct {
	Addr        string
	Password    string
	DB          int
	TTL         time.Duration
	DialTimeout time.Duration
}

// New connects and pings the server.
func New(ctx context.Context, o Options) (*Store, error) {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		DialTimeout: o.DialTimeout,
	})

	pctx, cancel := context.WithTimeout(ctx, o.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewWithClient(rdb, o.TTL), nil
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Get reports a missing key as (nil, false, nil).
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte) error {
	return s.rdb.Set(ctx, key, val, s.ttl).Err()
}

// DeletePrefix removes every key starting with prefix, e.g. all cached
// answers of a closed session.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
