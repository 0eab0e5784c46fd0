// Package busy provides single-flight guards that reject, rather than queue,
// a second paste while one is in progress.
package busy

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
)

// LocalGuard tracks busy keys in process
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard creates an in-process guard
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

// Acquire marks key busy. It fails immediately with a BUSY error when the key
// is already held. The returned release is safe to call more than once.
func (g *LocalGuard) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, pberrors.NewBusyError(key)
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether key is currently held
func (g *LocalGuard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// NewGuard builds the guard selected by cfg.Backend
func NewGuard(cfg *config.BusyConfig, logger interfaces.Logger) (interfaces.BusyGuard, func() error, error) {
	if cfg == nil || cfg.Backend == "" || cfg.Backend == "local" {
		return NewLocalGuard(), func() error { return nil }, nil
	}
	if cfg.Backend != "redis" {
		return nil, nil, fmt.Errorf("unsupported busy backend: %s", cfg.Backend)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	g := NewRedisGuard(client, cfg.KeyPrefix, cfg.TTL, logger)
	return g, client.Close, nil
}
