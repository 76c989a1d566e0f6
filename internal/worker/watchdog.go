package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/ledger"
)

const (
	expiredJobMessage = "status record expired"
	defaultSweepBatch = 100
)

// StaleSource lists jobs the ledger still believes are in flight and accepts corrections
type StaleSource interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]ledger.Entry, error)
	Record(ctx context.Context, rec domain.Record) error
}

// StaleFailer is the compare-and-set slice of the status store the watchdog needs
type StaleFailer interface {
	Get(ctx context.Context, jobID string) (domain.Record, error)
	FailIfStale(ctx context.Context, jobID string, cutoff time.Time) (domain.Record, bool, error)
}

// InputDeleter removes uploaded inputs
type InputDeleter interface {
	Delete(ctx context.Context, url string) error
}

// WatchdogConfig holds the watchdog timing
type WatchdogConfig struct {
	StaleAfter time.Duration
	Interval   time.Duration
	BatchSize  int
}

// Watchdog fails jobs whose status record has not moved past the deadline:
// QUEUED jobs no worker started and runs that died mid-pipeline.
// Failing a job clears its run ID, so a late write from the abandoned run is rejected.
type Watchdog struct {
	ledger     StaleSource
	status     StaleFailer
	blobs      InputDeleter
	staleAfter time.Duration
	interval   time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

// NewWatchdog creates a Watchdog
func NewWatchdog(l StaleSource, status StaleFailer, blobs InputDeleter, cfg WatchdogConfig, logger *slog.Logger) *Watchdog {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}

	return &Watchdog{
		ledger:     l,
		status:     status,
		blobs:      blobs,
		staleAfter: cfg.StaleAfter,
		interval:   cfg.Interval,
		batchSize:  batch,
		logger:     logger,
		now:        time.Now,
	}
}

// Run sweeps on every interval until ctx is canceled
func (d *Watchdog) Run(ctx context.Context) {
	d.logger.Info("Watchdog started",
		slog.Duration("stale_after", d.staleAfter),
		slog.Duration("interval", d.interval),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Watchdog stopped")
			return
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil {
				d.logger.Error("Watchdog sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep handles one batch of stale jobs and returns how many it failed
func (d *Watchdog) Sweep(ctx context.Context) (int, error) {
	cutoff := d.now().Add(-d.staleAfter)

	entries, err := d.ledger.ListStale(ctx, cutoff, d.batchSize)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, entry := range entries {
		rec, flipped, err := d.status.FailIfStale(ctx, entry.JobID, cutoff)
		if err != nil {
			d.logger.Warn("Failed to expire stale job",
				slog.String("job_id", entry.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !flipped {
			d.reconcile(ctx, entry.JobID)
			continue
		}

		failed++
		d.record(ctx, rec)
		for _, url := range entry.InputURLs {
			if err := d.blobs.Delete(ctx, url); err != nil {
				d.logger.Warn("Failed to delete input of stale job",
					slog.String("job_id", entry.JobID),
					slog.String("url", url),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if failed > 0 {
		d.logger.Warn("Watchdog failed stale jobs",
			slog.Int("count", failed),
		)
	}
	return failed, nil
}

// reconcile brings a ledger row that lags the status store back in line
func (d *Watchdog) reconcile(ctx context.Context, jobID string) {
	rec, err := d.status.Get(ctx, jobID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		d.record(ctx, domain.Failed(jobID, expiredJobMessage))
	case err != nil:
		d.logger.Warn("Failed to read job during reconcile",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	default:
		d.record(ctx, rec)
	}
}

func (d *Watchdog) record(ctx context.Context, rec domain.Record) {
	if err := d.ledger.Record(ctx, rec); err != nil {
		d.logger.Warn("Failed to update ledger",
			slog.String("job_id", rec.JobID),
			slog.String("error", err.Error()),
		)
	}
}
