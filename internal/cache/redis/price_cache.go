package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// tickTTL bounds how long a mirrored tick survives without refresh.
const tickTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes.
// Each symbol is stored at "price:{symbol}" with fields price, change, ts
// (Unix nanoseconds) and source.
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) priceKey(symbol string) string {
	return pc.c.key("price", symbol)
}

// SetTick stores the latest tick for a symbol.
func (pc *PriceCache) SetTick(ctx context.Context, tick domain.PriceTick) error {
	key := pc.priceKey(tick.Symbol)
	fields := map[string]any{
		"price":  tick.Price.String(),
		"change": tick.Change24h.String(),
		"ts":     strconv.FormatInt(tick.Timestamp.UnixNano(), 10),
		"source": string(tick.Source),
	}
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, tickTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// GetTick returns domain.ErrNotFound when the symbol has no mirrored tick.
func (pc *PriceCache) GetTick(ctx context.Context, symbol string) (domain.PriceTick, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(symbol)).Result()
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: get tick %s: %w", symbol, err)
	}
	tick, err := parseTick(symbol, vals)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("redis: get tick %s: %w", symbol, err)
	}
	return tick, nil
}

// GetTicks retrieves ticks for several symbols using a pipeline. Symbols
// without a tick are omitted from the result.
func (pc *PriceCache) GetTicks(ctx context.Context, symbols []string) (map[string]domain.PriceTick, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceTick{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, pc.priceKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get ticks pipeline: %w", err)
	}

	out := make(map[string]domain.PriceTick, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if tick, err := parseTick(s, vals); err == nil {
			out[s] = tick
		}
	}
	return out, nil
}

func parseTick(symbol string, vals map[string]string) (domain.PriceTick, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceTick{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceTick{}, fmt.Errorf("parse ts: %w", err)
	}
	change, _ := decimal.NewFromString(vals["change"])
	return domain.PriceTick{
		Symbol:    symbol,
		Price:     price,
		Change24h: change,
		Timestamp: time.Unix(0, tsNano),
		Source:    domain.PriceSource(vals["source"]),
	}, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
