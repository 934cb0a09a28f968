package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrRedisNotConfigured = errors.New("REDIS_ADDRESS not set")

var (
	redisMu sync.RWMutex
	rdb     *redis.Client
	locker  *redislock.Client
)

// GetRedisDB returns nil until ConnectRedis succeeds.
func GetRedisDB() *redis.Client {
	redisMu.RLock()
	defer redisMu.RUnlock()
	return rdb
}

func GetRedisLock() *redislock.Client {
	redisMu.RLock()
	defer redisMu.RUnlock()
	return locker
}

// GetRedisValue returns ("", false, nil) when Redis is not connected or the key is missing.
func GetRedisValue(ctx context.Context, key string) (string, bool, error) {
	client := GetRedisDB()
	if client == nil {
		return "", false, nil
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// RedisConnectAttempts reads REDIS_CONNECT_ATTEMPTS (default 5).
func RedisConnectAttempts() int {
	if n, err := strconv.Atoi(os.Getenv("REDIS_CONNECT_ATTEMPTS")); err == nil && n > 0 {
		return n
	}
	return 5
}

// ConnectRedis pings REDIS_ADDRESS up to maxAttempts times and, on success, sets
// the global Redis client + lock client. Redis is optional: callers log the
// error and keep running without sessions, rate limiting or the sweep lock.
func ConnectRedis(ctx context.Context, maxAttempts int) error {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		return ErrRedisNotConfigured
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:        redisAddr,
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          0,
			PoolSize:    100,
			DialTimeout: 3 * time.Second,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			redisMu.Lock()
			rdb = client
			locker = redislock.New(client)
			redisMu.Unlock()
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return nil
		}
		_ = client.Close()
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		sleep := retrySleep(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return fmt.Errorf("redis unavailable after %d attempts: %w", maxAttempts, lastErr)
}

func CloseRedis() {
	redisMu.Lock()
	defer redisMu.Unlock()
	if rdb != nil {
		_ = rdb.Close()
	}
	rdb, locker = nil, nil
}
