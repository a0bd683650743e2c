package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// SweepReport summarises one settlement pass.
type SweepReport struct {
	Scanned     int           `json:"scanned"`
	Won         int           `json:"won"`
	Lost        int           `json:"lost"`
	Cancelled   int           `json:"cancelled"`
	NoPrice     int           `json:"no_price"`
	Conflicts   int           `json:"conflicts"`
	Failed      int           `json:"failed"`
	Quarantined int           `json:"quarantined"` // held, including earlier passes
	LockHeld    bool          `json:"lock_held,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Resolved is the number of trades this pass moved out of PENDING.
func (r SweepReport) Resolved() int {
	return r.Won + r.Lost + r.Cancelled
}

type outcome int

const (
	outcomeResolved outcome = iota
	outcomeNoPrice
	outcomeConflict
	outcomeFailed
	outcomeQuarantined
	outcomeNotDue
)

// ResolveExpired settles every PENDING trade whose end time has passed, up to
// the batch size. Trades are processed concurrently and independently; a
// trade without a price stays PENDING for the next pass. Quarantined trades
// are never fetched, and when a full batch leaves trades PENDING the pass
// fetches again past them so they cannot starve later trades.
func (e *Engine) ResolveExpired(ctx context.Context) (SweepReport, error) {
	start := e.now()
	skip := e.quarantinedIDs()

	var (
		mu     sync.Mutex
		report = SweepReport{Quarantined: len(skip)}
	)
	for {
		due, err := e.deps.Trades.FindExpiredPending(ctx, start, e.cfg.BatchSize, skip)
		if err != nil {
			return report, fmt.Errorf("engine: resolve expired: %w", err)
		}
		report.Scanned += len(due)

		var (
			left []string // still PENDING after this page
			g    errgroup.Group
		)
		g.SetLimit(e.cfg.Workers)
		for _, t := range due {
			g.Go(func() error {
				status, out := e.settle(ctx, t)
				mu.Lock()
				defer mu.Unlock()
				if out != outcomeResolved && out != outcomeConflict {
					left = append(left, t.ID)
				}
				switch out {
				case outcomeResolved:
					switch status {
					case domain.TradeWin:
						report.Won++
					case domain.TradeLoss:
						report.Lost++
					case domain.TradeCancelled:
						report.Cancelled++
					}
				case outcomeNoPrice:
					report.NoPrice++
				case outcomeConflict:
					report.Conflicts++
				case outcomeQuarantined:
					report.Quarantined++
				case outcomeNotDue:
				default:
					report.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < e.cfg.BatchSize || len(left) == 0 || ctx.Err() != nil {
			break
		}
		skip = append(skip, left...)
	}

	report.Duration = e.now().Sub(start)
	if report.Scanned > 0 {
		e.logger.InfoContext(ctx, "sweep complete",
			slog.Int("scanned", report.Scanned),
			slog.Int("won", report.Won),
			slog.Int("lost", report.Lost),
			slog.Int("cancelled", report.Cancelled),
			slog.Int("no_price", report.NoPrice),
			slog.Int("conflicts", report.Conflicts),
			slog.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// Outcome decides the terminal status of a trade exiting at exit. A tie is a
// LOSS unless tieRefunds is set, in which case it is CANCELLED.
func Outcome(dir domain.Direction, entry, exit decimal.Decimal, tieRefunds bool) domain.TradeStatus {
	switch c := exit.Cmp(entry); {
	case c == 0 && tieRefunds:
		return domain.TradeCancelled
	case c > 0 && dir == domain.DirectionCall, c < 0 && dir == domain.DirectionPut:
		return domain.TradeWin
	default:
		return domain.TradeLoss
	}
}

// resolution builds the terminal write for t.
func resolution(t domain.Trade, status domain.TradeStatus, tick domain.PriceTick, at time.Time, notes string) domain.Resolution {
	payout := decimal.Zero
	switch status {
	case domain.TradeWin:
		payout = t.PossiblePayout
	case domain.TradeCancelled:
		if t.StakeDebited {
			payout = t.Stake
		}
	}
	r := domain.Resolution{
		Status:       status,
		ActualPayout: payout,
		ProcessedAt:  at,
		Notes:        notes,
	}
	if !tick.Price.IsZero() {
		exit := tick.Price
		r.ExitPrice = &exit
		r.ExitSource = tick.Source
	}
	return r
}

func (e *Engine) settle(ctx context.Context, t domain.Trade) (domain.TradeStatus, outcome) {
	now := e.now()
	if now.Before(t.EndTime) {
		return "", outcomeNotDue
	}

	tick, ok := e.deps.Oracle.GetPrice(t.Symbol)
	if !ok {
		e.logger.WarnContext(ctx, "no price for expired trade, retrying next sweep",
			slog.String("trade_id", t.ID),
			slog.String("symbol", t.Symbol),
		)
		return "", outcomeNoPrice
	}

	status := Outcome(t.Direction, t.EntryPrice, tick.Price, e.cfg.TieRefunds)
	notes := ""
	if status == domain.TradeCancelled {
		notes = "tie refunded"
	}
	res := resolution(t, status, tick, now, notes)

	after, err := e.commit(ctx, t, res)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTradeNotPending):
		e.logger.DebugContext(ctx, "trade already settled elsewhere", slog.String("trade_id", t.ID))
		return "", outcomeConflict
	case errors.Is(err, domain.ErrReconciliationRequired):
		e.hold(ctx, t, err)
		return "", outcomeQuarantined
	default:
		e.logger.WarnContext(ctx, "settlement failed, retrying next sweep",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
		return "", outcomeFailed
	}

	t = applied(t, res, after)
	e.logger.InfoContext(ctx, "trade settled",
		slog.String("trade_id", t.ID),
		slog.String("user_id", t.UserID),
		slog.String("status", string(t.Status)),
		slog.String("entry_price", t.EntryPrice.String()),
		slog.String("exit_price", tick.Price.String()),
		slog.String("exit_source", string(tick.Source)),
		slog.String("payout", t.ActualPayout.String()),
	)
	e.publish(ctx, domain.TradeEventResolved, t)
	return status, outcomeResolved
}

// commit writes the resolution, credits any payout and records the balance
// after, all in one transaction. If the transaction fails after a credit was
// applied and the failure cannot be attributed to fn, the credit may have
// landed and ErrReconciliationRequired is returned.
func (e *Engine) commit(ctx context.Context, t domain.Trade, res domain.Resolution) (decimal.Decimal, error) {
	var (
		after    decimal.Decimal
		credited bool
		fnErr    error
	)
	err := e.deps.Tx.WithinTx(ctx, func(tx domain.Tx) error {
		fnErr = func() error {
			if err := tx.Trades().UpdateResolved(ctx, t.ID, res); err != nil {
				return err
			}
			var err error
			if res.ActualPayout.IsPositive() {
				after, err = tx.Wallet().Credit(ctx, t.UserID, res.ActualPayout)
				if err != nil {
					return fmt.Errorf("credit: %w", err)
				}
				credited = true
			} else {
				after, err = tx.Wallet().Balance(ctx, t.UserID)
				if err != nil {
					return fmt.Errorf("balance: %w", err)
				}
			}
			return tx.Trades().SetBalanceAfter(ctx, t.ID, after)
		}()
		return fnErr
	})
	if err != nil {
		if fnErr == nil && credited {
			return decimal.Zero, fmt.Errorf("engine: commit %s: %v: %w", t.ID, err, domain.ErrReconciliationRequired)
		}
		return decimal.Zero, fmt.Errorf("engine: commit %s: %w", t.ID, err)
	}
	return after, nil
}

// applied returns t as it reads after res was committed.
func applied(t domain.Trade, res domain.Resolution, after decimal.Decimal) domain.Trade {
	processedAt := res.ProcessedAt
	t.Status = res.Status
	t.ExitPrice = res.ExitPrice
	t.ExitSource = res.ExitSource
	t.ActualPayout = res.ActualPayout
	t.Processed = true
	t.ProcessedAt = &processedAt
	t.WalletBalanceAfter = &after
	if res.Notes != "" {
		t.Notes = res.Notes
	}
	t.UpdatedAt = processedAt
	return t
}

// CancelTrade administratively cancels a PENDING trade, refunding the stake
// if it was debited. Terminal trades yield domain.ErrTradeNotPending.
func (e *Engine) CancelTrade(ctx context.Context, tradeID, reason string) (domain.Trade, error) {
	t, err := e.deps.Trades.Get(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("engine: cancel trade: %w", err)
	}
	if t.Status.Terminal() {
		return domain.Trade{}, fmt.Errorf("engine: cancel trade %s (%s): %w", tradeID, t.Status, domain.ErrTradeNotPending)
	}
	if reason == "" {
		reason = "cancelled by administrator"
	}

	// Cancelled trades still carry an exit price: the latest tick if one is
	// cached, else the entry price.
	exit, ok := e.deps.Oracle.GetPrice(t.Symbol)
	if !ok {
		exit = domain.PriceTick{Symbol: t.Symbol, Price: t.EntryPrice, Source: t.EntrySource}
	}
	now := e.now()
	res := resolution(t, domain.TradeCancelled, exit, now, reason)
	after, err := e.commit(ctx, t, res)
	if err != nil {
		if errors.Is(err, domain.ErrReconciliationRequired) {
			e.hold(ctx, t, err)
		}
		return domain.Trade{}, fmt.Errorf("engine: cancel trade: %w", err)
	}

	t = applied(t, res, after)
	e.logger.InfoContext(ctx, "trade cancelled",
		slog.String("trade_id", t.ID),
		slog.String("user_id", t.UserID),
		slog.String("refund", t.ActualPayout.String()),
		slog.String("reason", reason),
	)
	e.audit(ctx, domain.AuditTradeCancelled, map[string]any{
		"trade_id": t.ID,
		"user_id":  t.UserID,
		"refund":   t.ActualPayout.String(),
		"reason":   reason,
	})
	e.publish(ctx, domain.TradeEventResolved, t)
	return t, nil
}
