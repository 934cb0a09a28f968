package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

var ErrSweepLocked = errors.New("another sweep holds the lock")

// SweepLock keeps concurrent sweeps from overlapping across instances.
// It is an optimization; finalize stays correct without it.
type SweepLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), err error)
}

type RedisSweepLock struct {
	client func() *redislock.Client
}

// NewRedisSweepLock resolves the client on every Acquire, so a Redis that
// connects after startup starts guarding sweeps. While client returns nil,
// sweeps run unguarded.
func NewRedisSweepLock(client func() *redislock.Client) SweepLock {
	if client == nil {
		return nil
	}
	return &RedisSweepLock{client: client}
}

func (l *RedisSweepLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error) {
	client := l.client()
	if client == nil {
		return func(context.Context) {}, nil
	}
	lock, err := client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrSweepLocked
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		_ = lock.Release(ctx)
	}, nil
}
