package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	statsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_stats_cache_hits_total",
		Help: "Попадания в кэш статистики тикетов.",
	})
	statsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_stats_cache_misses_total",
		Help: "Промахи кэша статистики тикетов.",
	})
)

// StatsCache — кэш агрегатов по ключу (роль, пользователь).
type StatsCache interface {
	Get(ctx context.Context, key string) (*Stats, bool)
	Set(ctx context.Context, key string, v *Stats)
}

// MemoryStatsCache — in-process LRU с TTL, когда Redis не настроен.
type MemoryStatsCache struct {
	lru *expirable.LRU[string, *Stats]
}

func NewMemoryStatsCache(size int, ttl time.Duration) *MemoryStatsCache {
	return &MemoryStatsCache{lru: expirable.NewLRU[string, *Stats](size, nil, ttl)}
}

func (c *MemoryStatsCache) Get(_ context.Context, key string) (*Stats, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		statsCacheHits.Inc()
		return v, true
	}
	statsCacheMisses.Inc()
	return nil, false
}

func (c *MemoryStatsCache) Set(_ context.Context, key string, v *Stats) {
	c.lru.Add(key, v)
}

// RedisStatsCache делит кэш между репликами. Ошибки Redis считаются промахом.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl, log: log.With("component", "stats_cache")}
}

func (c *RedisStatsCache) Get(ctx context.Context, key string) (*Stats, bool) {
	raw, err := c.client.Get(ctx, redisStatsKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("redis get failed", "key", key, "error", err)
		}
		statsCacheMisses.Inc()
		return nil, false
	}
	var v Stats
	if err := json.Unmarshal(raw, &v); err != nil {
		statsCacheMisses.Inc()
		return nil, false
	}
	statsCacheHits.Inc()
	return &v, true
}

func (c *RedisStatsCache) Set(ctx context.Context, key string, v *Stats) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisStatsKey(key), raw, c.ttl).Err(); err != nil {
		c.log.Warn("redis set failed", "key", key, "error", err)
	}
}

func redisStatsKey(key string) string {
	return "helpdesk:stats:" + key
}
