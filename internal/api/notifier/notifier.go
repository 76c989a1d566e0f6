// Package notifier exposes job status to clients by snapshot or by change stream.
// It only reads the status store and keeps no state of its own between calls.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/statusstore"
)

// Config holds the stream sampling policy
type Config struct {
	Interval        time.Duration
	MaxReadFailures int
	NotFoundGrace   time.Duration
}

// Notifier reads job status for poll and stream clients
type Notifier struct {
	reader          statusstore.Reader
	interval        time.Duration
	maxReadFailures int
	notFoundGrace   time.Duration
	logger          *slog.Logger
}

// New creates a Notifier
func New(reader statusstore.Reader, cfg Config, logger *slog.Logger) *Notifier {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	maxFailures := cfg.MaxReadFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &Notifier{
		reader:          reader,
		interval:        interval,
		maxReadFailures: maxFailures,
		notFoundGrace:   cfg.NotFoundGrace,
		logger:          logger,
	}
}

// Poll returns the current record, domain.ErrJobNotFound, or an error wrapping domain.ErrStatusUnavailable
func (n *Notifier) Poll(ctx context.Context, jobID string) (domain.Record, error) {
	rec, err := n.reader.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.Record{}, err
		}
		return domain.Record{}, fmt.Errorf("%w: %v", domain.ErrStatusUnavailable, err)
	}
	return rec, nil
}

// Watch samples the job every interval and calls emit whenever the status differs from the last one emitted.
// It returns nil right after emitting a terminal status; domain.ErrJobNotFound when the job stays unknown
// past the grace period; an error wrapping domain.ErrStatusUnavailable after too many consecutive read
// failures; the emit error when the client goes away; ctx.Err() on cancellation.
func (n *Notifier) Watch(ctx context.Context, jobID string, emit func(domain.Record) error) error {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	var (
		last          domain.Status
		failures      int
		notFoundSince time.Time
	)

	for {
		rec, err := n.reader.Get(ctx, jobID)
		switch {
		case err == nil:
			failures = 0
			notFoundSince = time.Time{}

			if rec.Status != last {
				if err := emit(rec); err != nil {
					return err
				}
				last = rec.Status
			}
			if rec.Status.IsTerminal() {
				return nil
			}

		case errors.Is(err, domain.ErrJobNotFound):
			failures = 0
			if notFoundSince.IsZero() {
				notFoundSince = time.Now()
			}
			if time.Since(notFoundSince) >= n.notFoundGrace {
				return domain.ErrJobNotFound
			}

		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			n.logger.Warn("Status read failed while streaming",
				slog.String("job_id", jobID),
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures >= n.maxReadFailures {
				return fmt.Errorf("%w: %d consecutive read failures: %v", domain.ErrStatusUnavailable, failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
