// Package gateway accepts image submissions and turns them into queued jobs.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/imaging"
	"github.com/cuongbtq/panel-one/shared/blobstore"
)

// compensationTimeout bounds the rollback of a rejected submission
const compensationTimeout = 10 * time.Second

// StatusWriter is the slice of the status store the gateway writes
type StatusWriter interface {
	Put(ctx context.Context, rec domain.Record) error
	Delete(ctx context.Context, jobID string) error
}

// Enqueuer publishes the pipeline task of a job
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, inputURLs []string) error
}

// Ledger records submitted jobs durably
type Ledger interface {
	Insert(ctx context.Context, jobID string, inputURLs []string) error
	Delete(ctx context.Context, jobID string) error
}

// Upload is one submitted file
type Upload struct {
	Name string
	Data []byte
}

// Submission is the accepted outcome of Submit
type Submission struct {
	JobID    string
	Status   domain.Status
	Accepted int
	Rejected []imaging.Rejected
}

// Dependencies wires the gateway to its adapters
type Dependencies struct {
	Status    StatusWriter
	Blobs     blobstore.Store
	Enqueuer  Enqueuer
	Ledger    Ledger
	MaxImages int
	Logger    *slog.Logger
}

// Gateway validates, stages and enqueues submissions
type Gateway struct {
	status    StatusWriter
	blobs     blobstore.Store
	enqueuer  Enqueuer
	ledger    Ledger
	maxImages int
	logger    *slog.Logger
	newID     func() string
}

// New creates a Gateway
func New(deps Dependencies) *Gateway {
	maxImages := deps.MaxImages
	if maxImages <= 0 || maxImages > domain.MaxInputImages {
		maxImages = domain.MaxInputImages
	}

	return &Gateway{
		status:    deps.Status,
		blobs:     deps.Blobs,
		enqueuer:  deps.Enqueuer,
		ledger:    deps.Ledger,
		maxImages: maxImages,
		logger:    deps.Logger,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit stages the valid images and enqueues one job for them.
// The QUEUED record is written before the task is published; any failure after
// staging rolls back the record and the uploaded inputs.
func (g *Gateway) Submit(ctx context.Context, uploads []Upload) (Submission, error) {
	if len(uploads) > g.maxImages {
		return Submission{}, fmt.Errorf("%w: got %d, at most %d allowed", domain.ErrTooManyImages, len(uploads), g.maxImages)
	}

	names := make([]string, len(uploads))
	payloads := make([][]byte, len(uploads))
	for i, u := range uploads {
		names[i] = u.Name
		payloads[i] = u.Data
	}

	valid, rejected := imaging.Filter(names, payloads)
	for _, r := range rejected {
		g.logger.Warn("Rejected upload",
			slog.String("name", r.Name),
			slog.String("error", r.Err.Error()),
		)
	}
	if len(valid) == 0 {
		return Submission{}, domain.ErrNoValidImages
	}

	jobID := g.newID()
	logger := g.logger.With(slog.String("job_id", jobID))

	urls, err := g.stageInputs(ctx, jobID, valid)
	if err != nil {
		logger.Error("Failed to stage inputs",
			slog.String("error", err.Error()),
		)
		return Submission{}, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	if err := g.status.Put(ctx, domain.Queued(jobID)); err != nil {
		g.rollback(ctx, jobID, urls, false)
		return Submission{}, fmt.Errorf("failed to record job: %w", err)
	}

	if g.ledger != nil {
		if err := g.ledger.Insert(ctx, jobID, urls); err != nil {
			logger.Warn("Failed to insert ledger entry",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := g.enqueuer.Enqueue(ctx, jobID, urls); err != nil {
		logger.Error("Failed to enqueue job",
			slog.String("error", err.Error()),
		)
		g.rollback(ctx, jobID, urls, true)
		return Submission{}, err
	}

	logger.Info("Job submitted",
		slog.Int("accepted", len(valid)),
		slog.Int("rejected", len(rejected)),
	)

	return Submission{
		JobID:    jobID,
		Status:   domain.StatusQueued,
		Accepted: len(valid),
		Rejected: rejected,
	}, nil
}

// stageInputs uploads every image concurrently; on failure the uploads that did land are removed
func (g *Gateway) stageInputs(ctx context.Context, jobID string, images []imaging.Image) ([]string, error) {
	urls := make([]string, len(images))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, img := range images {
		eg.Go(func() error {
			url, err := g.blobs.Put(egCtx, domain.InputPath(jobID, i, img.Extension()), bytes.NewReader(img.Data), img.MIMEType)
			if err != nil {
				return fmt.Errorf("%s: %w", img.Name, err)
			}
			urls[i] = url
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		g.deleteInputs(ctx, jobID, urls)
		return nil, err
	}
	return urls, nil
}

// rollback removes everything a rejected submission left behind
func (g *Gateway) rollback(ctx context.Context, jobID string, urls []string, recorded bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if recorded {
		if err := g.status.Delete(ctx, jobID); err != nil {
			g.logger.Error("Failed to delete status record of rejected job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		if g.ledger != nil {
			if err := g.ledger.Delete(ctx, jobID); err != nil {
				g.logger.Warn("Failed to delete ledger entry of rejected job",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	g.deleteInputs(ctx, jobID, urls)
}

func (g *Gateway) deleteInputs(ctx context.Context, jobID string, urls []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := g.blobs.Delete(ctx, url); err != nil {
			g.logger.Warn("Failed to delete staged input",
				slog.String("job_id", jobID),
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
		}
	}
}
