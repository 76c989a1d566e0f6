// Package statusstore persists the per-job status record with a fixed expiry.
package statusstore

import (
	"context"
	"time"

	"github.com/cuongbtq/panel-one/internal/domain"
)

// Store is the contract between the pipeline writer and the gateway/notifier readers.
// Every write replaces all fields of the job's record and refreshes its expiry.
type Store interface {
	// Put replaces the record of rec.JobID unconditionally; used for the initial QUEUED record.
	Put(ctx context.Context, rec domain.Record) error

	// Get returns the current record or domain.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (domain.Record, error)

	// Delete removes the record; used only to roll back a submission that never got enqueued.
	Delete(ctx context.Context, jobID string) error

	// Claim moves a QUEUED record to PROCESSING_IMAGES and returns the run ID that owns it.
	// It fails with domain.ErrJobNotFound, domain.ErrJobAlreadyClaimed or domain.ErrJobAlreadyTerminal.
	Claim(ctx context.Context, jobID string) (string, error)

	// Transition writes rec only while runID owns the job and the status moves forward.
	// It fails with domain.ErrNotRunOwner, domain.ErrJobAlreadyTerminal or domain.ErrInvalidTransition.
	Transition(ctx context.Context, runID string, rec domain.Record) error

	// FailIfStale writes a FAILED record for a non-terminal job last updated before cutoff.
	FailIfStale(ctx context.Context, jobID string, cutoff time.Time) (domain.Record, bool, error)
}

// Reader is the read-only view used by the notifier.
type Reader interface {
	Get(ctx context.Context, jobID string) (domain.Record, error)
}
