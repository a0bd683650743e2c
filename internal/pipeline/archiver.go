// Package pipeline runs scheduled maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// Archiver moves settled trades older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Cutoff returns the processed-at time before which trades are archived.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive run and returns the number of trades archived.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("trades_archived", n))
	return n, nil
}

// RunCron runs the archiver on a standard 5-field cron schedule until ctx is
// cancelled, e.g. "0 3 1 * *" for 03:00 UTC on the 1st of every month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}))
	c.Start()
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
