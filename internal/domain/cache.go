package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest ticks for other processes.
type PriceCache interface {
	SetTick(ctx context.Context, tick PriceTick) error
	GetTick(ctx context.Context, symbol string) (PriceTick, error)
	GetTicks(ctx context.Context, symbols []string) (map[string]PriceTick, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between components.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channels.
const (
	ChannelPrices = "prices"
	ChannelTrades = "trades"
)
