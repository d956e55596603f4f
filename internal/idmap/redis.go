package idmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "xrelay:idmap"

// RedisStorage keeps the JSON snapshot under a single Redis key.
type RedisStorage struct {
	rdb *redis.Client
	key string
}

// NewRedisStorage connects using a redis:// URL.
func NewRedisStorage(url string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStorage{rdb: redis.NewClient(opts), key: defaultRedisKey}, nil
}

// ReadAll implements Storage.
func (s *RedisStorage) ReadAll(ctx context.Context) ([]Entry, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return decodeEntries(data)
}

// WriteAll implements Storage.
func (s *RedisStorage) WriteAll(ctx context.Context, entries []Entry) error {
	data, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// Close implements Storage.
func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
