package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// SweeperConfig controls the settlement loop.
type SweeperConfig struct {
	Interval time.Duration
	// OverdueAfter is how long past its end time a PENDING trade may wait
	// before it counts as overdue.
	OverdueAfter time.Duration
	// LockKey and LockTTL apply when a LockManager is supplied.
	LockKey string
	LockTTL time.Duration
}

// SweeperStatus is a snapshot for the status endpoint.
type SweeperStatus struct {
	Running     bool          `json:"running"`
	Sweeps      int64         `json:"sweeps"`
	LastSweep   time.Time     `json:"last_sweep"`
	LastReport  SweepReport   `json:"last_report"`
	LastError   string        `json:"last_error,omitempty"`
	Overdue     int64         `json:"overdue"`
	Quarantined []Quarantined `json:"quarantined"`
}

// Sweeper runs ResolveExpired on a fixed interval.
type Sweeper struct {
	engine *Engine
	locks  domain.LockManager // nil runs without a leader lock
	cfg    SweeperConfig
	logger *slog.Logger

	mu            sync.Mutex
	status        SweeperStatus
	overdueNotice bool
}

// NewSweeper creates a Sweeper. locks may be nil.
func NewSweeper(engine *Engine, locks domain.LockManager, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.OverdueAfter <= 0 {
		cfg.OverdueAfter = 30 * time.Second
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "settlement-sweep"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &Sweeper{
		engine: engine,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("sweeper started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("sweeper stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SweepOnce runs one settlement pass and the overdue check. When another
// process holds the sweep lock it returns a report with LockHeld set.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return SweepReport{LockHeld: true}, nil
		}
		if err != nil {
			s.record(SweepReport{}, err)
			return SweepReport{}, fmt.Errorf("engine: sweep lock: %w", err)
		}
		defer unlock()
	}

	report, err := s.engine.ResolveExpired(ctx)
	s.record(report, err)
	if err != nil {
		return report, err
	}
	s.checkOverdue(ctx)
	return report, nil
}

func (s *Sweeper) checkOverdue(ctx context.Context) {
	cutoff := s.engine.now().Add(-s.cfg.OverdueAfter)
	n, err := s.engine.deps.Trades.CountOverdue(ctx, cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "overdue check failed", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.status.Overdue = n
	first := n > 0 && !s.overdueNotice
	s.overdueNotice = n > 0
	s.mu.Unlock()

	if n == 0 {
		return
	}
	s.logger.WarnContext(ctx, "trades overdue for settlement",
		slog.Int64("count", n),
		slog.Duration("overdue_after", s.cfg.OverdueAfter),
	)
	if first {
		s.engine.audit(ctx, domain.AuditSettlementDelays, map[string]any{
			"count":         n,
			"overdue_after": s.cfg.OverdueAfter.String(),
		})
		s.engine.alert(ctx, domain.AuditSettlementDelays, "Settlement delayed",
			fmt.Sprintf("%d trade(s) pending more than %s past expiry", n, s.cfg.OverdueAfter))
	}
}

func (s *Sweeper) record(r SweepReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Sweeps++
	s.status.LastSweep = s.engine.now()
	s.status.LastReport = r
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}

func (s *Sweeper) setRunning(v bool) {
	s.mu.Lock()
	s.status.Running = v
	s.mu.Unlock()
}

// Status returns a snapshot of sweeper state.
func (s *Sweeper) Status() SweeperStatus {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Quarantined = s.engine.Quarantined()
	return st
}
