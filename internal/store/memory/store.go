// Package memory implements the domain stores in process memory. It backs
// paper mode and the test suites of the packages above it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// Store holds every table behind one lock. A transaction holds the write
// lock from begin to commit, so readers never see its partial writes, and
// rolls back through recorded undo steps.
type Store struct {
	mu       sync.RWMutex
	trades   map[string]domain.Trade
	balances map[string]decimal.Decimal
	symbols  map[string]domain.Symbol
	audit    []domain.AuditEntry
}

var _ domain.Transactor = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		trades:   make(map[string]domain.Trade),
		balances: make(map[string]decimal.Decimal),
		symbols:  make(map[string]domain.Symbol),
	}
}

// Trades returns the non-transactional trade store.
func (s *Store) Trades() *TradeStore { return &TradeStore{s: s} }

// Wallet returns the non-transactional wallet ledger.
func (s *Store) Wallet() *WalletStore { return &WalletStore{s: s} }

// Symbols returns the symbol registry.
func (s *Store) Symbols() *SymbolStore { return &SymbolStore{s: s} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

// SetBalance opens or overwrites a wallet.
func (s *Store) SetBalance(userID string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = amount
}

// WithinTx runs fn with stores that record undo steps. If fn returns an error
// every mutation it made is reverted. fn must use only the stores of tx; the
// Store's own stores block until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: begin tx: %w", err)
	}

	t := &tx{s: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) Trades() domain.TradeStore   { return &TradeStore{s: t.s, tx: t} }
func (t *tx) Wallet() domain.WalletLedger { return &WalletStore{s: t.s, tx: t} }

// lock takes the store write lock unless t, whose transaction already holds
// it, is set.
func (s *Store) lock(t *tx) func() {
	if t != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock(t *tx) func() {
	if t != nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (t *tx) record(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

// rollback runs with the store lock held by WithinTx.
func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	s  *Store
	tx *tx
}

var _ domain.TradeStore = (*TradeStore)(nil)

func (ts *TradeStore) Insert(_ context.Context, t domain.Trade) error {
	defer ts.s.lock(ts.tx)()
	if _, ok := ts.s.trades[t.ID]; ok {
		return fmt.Errorf("memory: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	ts.s.trades[t.ID] = t
	id := t.ID
	ts.tx.record(func() { delete(ts.s.trades, id) })
	return nil
}

func (ts *TradeStore) Get(_ context.Context, id string) (domain.Trade, error) {
	defer ts.s.rlock(ts.tx)()
	t, ok := ts.s.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: get trade %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (ts *TradeStore) FindExpiredPending(_ context.Context, now time.Time, limit int, exclude []string) ([]domain.Trade, error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := ts.filter(func(t domain.Trade) bool {
		return t.Status == domain.TradePending && !t.Processed && !t.EndTime.After(now) && !skip[t.ID]
	})
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (ts *TradeStore) CountOverdue(_ context.Context, before time.Time) (int64, error) {
	n := len(ts.filter(func(t domain.Trade) bool {
		return t.Status == domain.TradePending && t.EndTime.Before(before)
	}))
	return int64(n), nil
}

func (ts *TradeStore) UpdateResolved(_ context.Context, id string, r domain.Resolution) error {
	defer ts.s.lock(ts.tx)()
	t, ok := ts.s.trades[id]
	if !ok {
		return fmt.Errorf("memory: resolve trade %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != domain.TradePending {
		return fmt.Errorf("memory: resolve trade %s: %w", id, domain.ErrTradeNotPending)
	}
	prev := t
	processedAt := r.ProcessedAt
	t.Status = r.Status
	t.ExitPrice = r.ExitPrice
	t.ExitSource = r.ExitSource
	t.ActualPayout = r.ActualPayout
	t.Processed = true
	t.ProcessedAt = &processedAt
	if r.Notes != "" {
		t.Notes = r.Notes
	}
	t.UpdatedAt = processedAt
	ts.s.trades[id] = t
	ts.tx.record(func() { ts.s.trades[id] = prev })
	return nil
}

func (ts *TradeStore) SetBalanceAfter(_ context.Context, id string, balance decimal.Decimal) error {
	defer ts.s.lock(ts.tx)()
	t, ok := ts.s.trades[id]
	if !ok {
		return fmt.Errorf("memory: set balance after %s: %w", id, domain.ErrNotFound)
	}
	prev := t
	t.WalletBalanceAfter = &balance
	ts.s.trades[id] = t
	ts.tx.record(func() { ts.s.trades[id] = prev })
	return nil
}

func (ts *TradeStore) ListActiveByUser(_ context.Context, userID string) ([]domain.Trade, error) {
	out := ts.filter(func(t domain.Trade) bool {
		return t.UserID == userID && t.Status == domain.TradePending
	})
	sortNewest(out)
	return out, nil
}

func (ts *TradeStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	out := ts.filter(func(t domain.Trade) bool {
		if t.UserID != userID {
			return false
		}
		if opts.Since != nil && t.CreatedAt.Before(*opts.Since) {
			return false
		}
		if opts.Until != nil && t.CreatedAt.After(*opts.Until) {
			return false
		}
		return true
	})
	sortNewest(out)
	return page(out, opts), nil
}

func (ts *TradeStore) CountByUser(_ context.Context, userID string) (int64, error) {
	return int64(len(ts.filter(func(t domain.Trade) bool { return t.UserID == userID }))), nil
}

func (ts *TradeStore) StatsByUser(_ context.Context, userID string) (domain.UserStats, error) {
	st := domain.UserStats{TotalInvested: decimal.Zero, TotalPayout: decimal.Zero}
	for _, t := range ts.filter(func(t domain.Trade) bool { return t.UserID == userID }) {
		st.TotalTrades++
		switch t.Status {
		case domain.TradeWin:
			st.WinningTrades++
		case domain.TradeLoss:
			st.LosingTrades++
		}
		st.TotalInvested = st.TotalInvested.Add(t.Stake)
		st.TotalPayout = st.TotalPayout.Add(t.ActualPayout)
	}
	return st, nil
}

func (ts *TradeStore) ListResolvedBefore(_ context.Context, before time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	out := ts.filter(func(t domain.Trade) bool {
		return t.Processed && t.ProcessedAt != nil && t.ProcessedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(*out[j].ProcessedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteResolvedBefore drops archived terminal trades.
func (ts *TradeStore) DeleteResolvedBefore(_ context.Context, before time.Time) (int64, error) {
	defer ts.s.lock(ts.tx)()
	var n int64
	for id, t := range ts.s.trades {
		if t.Processed && t.ProcessedAt != nil && t.ProcessedAt.Before(before) {
			delete(ts.s.trades, id)
			n++
		}
	}
	return n, nil
}

func (ts *TradeStore) filter(keep func(domain.Trade) bool) []domain.Trade {
	defer ts.s.rlock(ts.tx)()
	var out []domain.Trade
	for _, t := range ts.s.trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func sortNewest(trades []domain.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].ID > trades[j].ID
		}
		return trades[i].CreatedAt.After(trades[j].CreatedAt)
	})
}

func page(trades []domain.Trade, opts domain.ListOpts) []domain.Trade {
	if opts.Offset > 0 {
		if opts.Offset >= len(trades) {
			return nil
		}
		trades = trades[opts.Offset:]
	}
	if opts.Limit > 0 && len(trades) > opts.Limit {
		trades = trades[:opts.Limit]
	}
	return trades
}

// WalletStore implements domain.WalletLedger.
type WalletStore struct {
	s  *Store
	tx *tx
}

var _ domain.WalletLedger = (*WalletStore)(nil)

func (w *WalletStore) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	defer w.s.rlock(w.tx)()
	bal, ok := w.s.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("memory: balance %s: %w", userID, domain.ErrNotFound)
	}
	return bal, nil
}

func (w *WalletStore) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	defer w.s.lock(w.tx)()
	bal, ok := w.s.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("memory: debit %s: %w", userID, domain.ErrNotFound)
	}
	if bal.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("memory: debit %s: %w", userID, domain.ErrInsufficientBalance)
	}
	w.s.balances[userID] = bal.Sub(amount)
	w.tx.record(func() { w.s.balances[userID] = w.s.balances[userID].Add(amount) })
	return w.s.balances[userID], nil
}

func (w *WalletStore) Credit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	defer w.s.lock(w.tx)()
	bal, ok := w.s.balances[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("memory: credit %s: %w", userID, domain.ErrNotFound)
	}
	w.s.balances[userID] = bal.Add(amount)
	w.tx.record(func() { w.s.balances[userID] = w.s.balances[userID].Sub(amount) })
	return w.s.balances[userID], nil
}

// SymbolStore implements domain.SymbolRegistry.
type SymbolStore struct {
	s *Store
}

var _ domain.SymbolRegistry = (*SymbolStore)(nil)

func (r *SymbolStore) Upsert(_ context.Context, sym domain.Symbol) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sym.Ticker = strings.ToUpper(sym.Ticker)
	r.s.symbols[sym.Ticker] = sym
	return nil
}

func (r *SymbolStore) Get(_ context.Context, ticker string) (domain.Symbol, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sym, ok := r.s.symbols[strings.ToUpper(ticker)]
	if !ok {
		return domain.Symbol{}, fmt.Errorf("memory: get symbol %s: %w", ticker, domain.ErrNotFound)
	}
	return sym, nil
}

func (r *SymbolStore) GetActive(ctx context.Context, ticker string) (domain.Symbol, error) {
	sym, err := r.Get(ctx, ticker)
	if err != nil || !sym.Tradable() {
		return domain.Symbol{}, fmt.Errorf("memory: get active symbol %s: %w", ticker, domain.ErrSymbolInactive)
	}
	return sym, nil
}

func (r *SymbolStore) ListActive(_ context.Context, popularOnly bool) ([]domain.Symbol, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Symbol
	for _, sym := range r.s.symbols {
		if !sym.Tradable() || (popularOnly && !sym.IsPopular) {
			continue
		}
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder == out[j].SortOrder {
			return out[i].Name < out[j].Name
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	s *Store
}

var _ domain.AuditStore = (*AuditStore)(nil)

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:        int64(len(a.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.list("", opts), nil
}

func (a *AuditStore) ListByEvent(_ context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.list(event, opts), nil
}

// list returns entries newest first. An empty event matches every entry.
func (a *AuditStore) list(event string, opts domain.ListOpts) []domain.AuditEntry {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(a.s.audit))
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		if event == "" || a.s.audit[i].Event == event {
			out = append(out, a.s.audit[i])
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
