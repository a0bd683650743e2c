package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// TickSubscriber is the oracle's push interface.
type TickSubscriber interface {
	Subscribe(fn func(domain.PriceTick)) (unsubscribe func())
}

// PriceService mirrors oracle ticks into the shared price cache and publishes
// them on the "prices" channel. The oracle callback only enqueues; I/O happens
// on the Run goroutine.
type PriceService struct {
	oracle     TickSubscriber
	priceCache domain.PriceCache
	bus        domain.SignalBus
	logger     *slog.Logger

	queue   chan domain.PriceTick
	dropped atomic.Int64
}

// NewPriceService creates a PriceService. queueSize bounds the ticks waiting
// to be mirrored; overflow is dropped since a newer tick follows.
func NewPriceService(
	oracle TickSubscriber,
	priceCache domain.PriceCache,
	bus domain.SignalBus,
	queueSize int,
	logger *slog.Logger,
) *PriceService {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &PriceService{
		oracle:     oracle,
		priceCache: priceCache,
		bus:        bus,
		logger:     logger.With(slog.String("component", "price_service")),
		queue:      make(chan domain.PriceTick, queueSize),
	}
}

// Run subscribes to the oracle and drains ticks until ctx is cancelled.
func (s *PriceService) Run(ctx context.Context) error {
	unsubscribe := s.oracle.Subscribe(s.enqueue)
	defer unsubscribe()

	s.logger.Info("price service started")
	defer s.logger.Info("price service stopped", slog.Int64("dropped", s.dropped.Load()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-s.queue:
			if err := s.HandleTick(ctx, tick); err != nil {
				s.logger.WarnContext(ctx, "mirror tick failed",
					slog.String("symbol", tick.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *PriceService) enqueue(tick domain.PriceTick) {
	select {
	case s.queue <- tick:
	default:
		s.dropped.Add(1)
	}
}

// HandleTick writes the tick to the price cache and publishes a price event.
// A publish failure is logged, not returned.
func (s *PriceService) HandleTick(ctx context.Context, tick domain.PriceTick) error {
	if s.priceCache != nil {
		if err := s.priceCache.SetTick(ctx, tick); err != nil {
			return fmt.Errorf("price_service: set tick %s: %w", tick.Symbol, err)
		}
	}
	if s.bus == nil {
		return nil
	}
	evt, err := json.Marshal(domain.NewPriceEvent(tick))
	if err != nil {
		return fmt.Errorf("price_service: encode %s: %w", tick.Symbol, err)
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelPrices, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish price event failed",
			slog.String("symbol", tick.Symbol),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

// Dropped returns how many ticks overflowed the queue.
func (s *PriceService) Dropped() int64 {
	return s.dropped.Load()
}
