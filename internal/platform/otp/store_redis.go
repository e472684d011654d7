package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:"

// incrAttempts counts a wrong guess against a live challenge. The counter
// lives under its own key so that reissuing the code leaves it alone; its
// expiry is set by the first guess only.
var incrAttempts = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local n = redis.call("INCR", KEYS[2])
if n == 1 then
  redis.call("PEXPIRE", KEYS[2], ARGV[1])
end
return n
`)

func challengeKey(key string) string { return keyPrefix + key }

func attemptsKey(key string) string { return keyPrefix + key + ":attempts" }

// NewRedisClient connects to REDIS_URL and pings it.
func NewRedisClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each challenge in a hash that Redis expires on its own,
// so every server instance sees the same codes and attempt counts.
type RedisStore struct {
	rdb goredis.UniversalClient
}

func NewRedisStore(rdb goredis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, key string, hash []byte, ttl time.Duration) error {
	k := challengeKey(key)
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, "hash", hash)
		p.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Challenge, error) {
	hash, err := s.rdb.HGet(ctx, challengeKey(key), "hash").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrExpired
	}
	if err != nil {
		return nil, err
	}
	attempts, err := s.Attempts(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Challenge{Hash: hash, Attempts: attempts}, nil
}

func (s *RedisStore) Attempts(ctx context.Context, key string) (int, error) {
	n, err := s.rdb.Get(ctx, attemptsKey(key)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return n, nil
}

func (s *RedisStore) IncrAttempts(ctx context.Context, key string, window time.Duration) (int, error) {
	n, err := incrAttempts.Run(ctx, s.rdb, []string{challengeKey(key), attemptsKey(key)}, window.Milliseconds()).Int()
	if errors.Is(err, goredis.Nil) || (err == nil && n < 0) {
		return 0, ErrExpired
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, challengeKey(key)).Err()
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, challengeKey(key), attemptsKey(key)).Err()
}
