// Package engine places fixed-expiry binary option trades and settles them.
//
// A trade moves PENDING -> WIN | LOSS | CANCELLED exactly once. Placement
// debits the stake and inserts the trade in one transaction. Settlement
// applies a compare-and-set on status = PENDING and credits the wallet in the
// same transaction, so concurrent sweeps never pay a trade twice.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// Oracle is the engine's view of the price oracle.
type Oracle interface {
	// FreshPrice fails with domain.ErrPriceUnavailable for missing or stale ticks.
	FreshPrice(symbol string) (domain.PriceTick, error)
	// GetPrice returns the latest tick regardless of age.
	GetPrice(symbol string) (domain.PriceTick, bool)
}

// Alerter forwards operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds placement limits and sweep sizing.
type Config struct {
	GlobalMinStake decimal.Decimal
	GlobalMaxStake decimal.Decimal
	// TieRefunds cancels and refunds trades whose exit equals entry. When
	// false a tie is a LOSS.
	TieRefunds bool
	BatchSize  int
	Workers    int
}

// Deps are the collaborators of an Engine. Audit, Bus and Alerter are optional.
type Deps struct {
	Symbols domain.SymbolRegistry
	Wallet  domain.WalletLedger
	Trades  domain.TradeStore
	Tx      domain.Transactor
	Oracle  Oracle
	Audit   domain.AuditStore
	Bus     domain.SignalBus
	Alerter Alerter
}

// Quarantined is a trade excluded from automatic settlement until an
// operator reconciles it.
type Quarantined struct {
	TradeID string    `json:"trade_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	qmu        sync.Mutex
	quarantine map[string]Quarantined
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides trade ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.GlobalMinStake.IsZero() {
		cfg.GlobalMinStake = decimal.NewFromInt(1)
	}
	if cfg.GlobalMaxStake.IsZero() {
		cfg.GlobalMaxStake = decimal.NewFromInt(10000)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With(slog.String("component", "engine")),
		now:        time.Now,
		newID:      uuid.NewString,
		quarantine: make(map[string]Quarantined),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Quarantined returns the trades held for manual reconciliation, oldest first.
func (e *Engine) Quarantined() []Quarantined {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	out := make([]Quarantined, 0, len(e.quarantine))
	for _, q := range e.quarantine {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Release drops a trade from quarantine after manual reconciliation.
func (e *Engine) Release(tradeID string) bool {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	_, ok := e.quarantine[tradeID]
	delete(e.quarantine, tradeID)
	return ok
}

func (e *Engine) quarantinedIDs() []string {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	ids := make([]string, 0, len(e.quarantine))
	for id := range e.quarantine {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) hold(ctx context.Context, t domain.Trade, cause error) {
	q := Quarantined{TradeID: t.ID, Reason: cause.Error(), At: e.now()}
	e.qmu.Lock()
	e.quarantine[t.ID] = q
	e.qmu.Unlock()

	e.logger.ErrorContext(ctx, "trade quarantined for reconciliation",
		slog.String("trade_id", t.ID),
		slog.String("user_id", t.UserID),
		slog.String("error", cause.Error()),
	)
	e.audit(ctx, domain.AuditReconciliation, map[string]any{
		"trade_id": t.ID,
		"user_id":  t.UserID,
		"stake":    t.Stake.String(),
		"error":    cause.Error(),
	})
	e.alert(ctx, domain.AuditReconciliation, "Trade needs reconciliation",
		"trade "+t.ID+" for user "+t.UserID+": "+cause.Error())
}

func (e *Engine) audit(ctx context.Context, event string, detail map[string]any) {
	if e.deps.Audit == nil {
		return
	}
	if err := e.deps.Audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) alert(ctx context.Context, event, title, message string) {
	if e.deps.Alerter == nil {
		return
	}
	if err := e.deps.Alerter.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, kind string, t domain.Trade) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(domain.NewTradeEvent(kind, t))
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(ctx, domain.ChannelTrades, payload); err != nil {
		e.logger.WarnContext(ctx, "publish trade event failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}
