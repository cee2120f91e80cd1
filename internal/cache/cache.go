// Package cache — общий строковый кэш процесса.
//
// Хранит конфигурационные документы продуктов между задачами.
// Redis, если задан адрес, иначе LRU в памяти процесса.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache — строковый кэш. Реализации безопасны для конкурентного использования.
type Cache interface {
	// Get возвращает значение и признак попадания.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put сохраняет значение.
	Put(ctx context.Context, key, value string) error
}

// Interface — минимальный набор команд Redis для кэша.
type Interface interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis — кэш поверх Redis.
type Redis struct {
	client Interface
	prefix string
	ttl    time.Duration
}

// NewRedis создаёт кэш поверх клиента. ttl == 0 — без истечения.
func NewRedis(client Interface, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Get реализует Cache.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Put реализует Cache.
func (r *Redis) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Ping проверяет соединение.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Memory — LRU-кэш в памяти процесса.
type Memory struct {
	lru *lru.LRU[string, string]
}

// NewMemory создаёт LRU на size записей. ttl == 0 — без истечения.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{lru: lru.NewLRU[string, string](size, nil, ttl)}
}

// Get реализует Cache.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

// Put реализует Cache.
func (m *Memory) Put(_ context.Context, key, value string) error {
	m.lru.Add(key, value)
	return nil
}

// Options — параметры выбора реализации.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	LRUSize  int
}

// New выбирает реализацию: Redis при заданном Addr, иначе Memory.
// Недоступный Redis — ошибка, молча на память не переключаемся.
func New(ctx context.Context, opts Options) (Cache, func() error, error) {
	if opts.Addr == "" {
		return NewMemory(opts.LRUSize, opts.TTL), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	c := NewRedis(client, opts.Prefix, opts.TTL)
	if err := c.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return c, client.Close, nil
}
