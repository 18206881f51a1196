package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the byte cache used for incident read-through and alert
// deduplication.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider never stores anything. SetNX always wins, so deduplication
// is effectively disabled.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }

// Config selects a provider implementation.
type Config struct {
	Backend string
	Valkey  ValkeyConfig
}

// Backends accepted by New.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendValkey = "valkey"
)

// New builds the provider named by cfg.Backend. An empty backend yields the
// in-process memory cache.
func New(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryProvider(), nil
	case BackendNone:
		return NoopProvider{}, nil
	case BackendValkey:
		return NewValkeyProvider(cfg.Valkey)
	default:
		return nil, errors.New("cache: unknown backend " + cfg.Backend)
	}
}
