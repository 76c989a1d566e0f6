// Package pipeline runs one generation job through its stages:
// PROCESSING_IMAGES, GENERATING_STORY, GENERATING_IMAGE, UPLOADING and a terminal status.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/imaging"
	"github.com/cuongbtq/panel-one/shared/blobstore"
	"github.com/cuongbtq/panel-one/shared/gemini"
)

const (
	outputContentType = "image/png"

	// finalWriteTimeout bounds the terminal status write after the run budget is spent
	finalWriteTimeout = 10 * time.Second
)

// StatusWriter is the slice of the status store owned by the running job.
// Claim hands out the run ID that fences every later Transition.
type StatusWriter interface {
	Claim(ctx context.Context, jobID string) (string, error)
	Transition(ctx context.Context, runID string, rec domain.Record) error
}

// Mirror receives a copy of every status write
type Mirror interface {
	Record(ctx context.Context, rec domain.Record) error
}

// Generator is the generative capability used by the story and image stages
type Generator interface {
	GenerateStory(ctx context.Context, prompt string, images []gemini.Image) (string, error)
	GenerateImage(ctx context.Context, prompt string, images []gemini.Image) (gemini.Payload, error)
}

// Config holds the run budgets
type Config struct {
	Timeout         time.Duration
	DownloadTimeout time.Duration
	ScratchDir      string

	// MaxImagePixels caps the declared dimensions of a downloaded input
	MaxImagePixels int
}

// Dependencies wires the pipeline to its adapters
type Dependencies struct {
	Status    StatusWriter
	Mirror    Mirror
	Blobs     blobstore.Store
	Generator Generator
	Prompts   Prompts
	Logger    *slog.Logger
}

// Pipeline drives jobs through the stage machine
type Pipeline struct {
	status  StatusWriter
	mirror  Mirror
	blobs   blobstore.Store
	gen     Generator
	prompts Prompts
	config  Config
	logger  *slog.Logger
}

// New creates a Pipeline
func New(deps Dependencies, config Config) *Pipeline {
	return &Pipeline{
		status:  deps.Status,
		mirror:  deps.Mirror,
		blobs:   deps.Blobs,
		gen:     deps.Generator,
		prompts: deps.Prompts,
		config:  config,
		logger:  deps.Logger,
	}
}

// Run executes one task. It returns nil once a terminal status has been recorded.
// A non-nil error means the run never started (domain.ErrJobAlreadyTerminal, domain.ErrJobNotFound,
// domain.ErrJobAlreadyClaimed, a retryable claim failure), the run lost ownership of the job
// (domain.ErrNotRunOwner) or the terminal status could not be written.
func (p *Pipeline) Run(ctx context.Context, task domain.TaskMessage) error {
	logger := p.logger.With(slog.String("job_id", task.JobID))

	runID, err := p.status.Claim(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyTerminal) ||
			errors.Is(err, domain.ErrJobNotFound) ||
			errors.Is(err, domain.ErrJobAlreadyClaimed) {
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}
	logger = logger.With(slog.String("run_id", runID))
	p.mirrorStatus(ctx, domain.InProgress(task.JobID, domain.StatusProcessingImages))

	start := time.Now()
	resultURL, runErr := p.execute(ctx, runID, task)

	final := domain.Completed(task.JobID, resultURL)
	if runErr != nil {
		final = domain.Failed(task.JobID, FailureMessage(runErr))
		logger.Error("Job failed",
			slog.String("error", runErr.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
	} else {
		logger.Info("Job completed",
			slog.String("result_url", resultURL),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	// The run budget may be spent; the terminal write gets its own.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	writeErr := p.status.Transition(writeCtx, runID, final)
	if errors.Is(writeErr, domain.ErrNotRunOwner) || errors.Is(writeErr, domain.ErrJobAlreadyTerminal) {
		// Whoever took the job over owns its terminal record and its inputs.
		logger.Warn("Run lost ownership of job",
			slog.String("status", final.Status.String()),
			slog.String("error", writeErr.Error()),
		)
		return writeErr
	}
	if writeErr != nil {
		logger.Error("Failed to write terminal status",
			slog.String("status", final.Status.String()),
			slog.String("error", writeErr.Error()),
		)
	}
	p.mirrorStatus(writeCtx, final)

	p.cleanupInputs(writeCtx, task)

	if writeErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrStatusUnavailable, writeErr)
	}
	return nil
}

// execute runs the stages under the overall budget; faults surface as a StageError
func (p *Pipeline) execute(ctx context.Context, runID string, task domain.TaskMessage) (resultURL string, err error) {
	stage := domain.StatusProcessingImages

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pipeline panic recovered",
				slog.String("job_id", task.JobID),
				slog.String("stage", stage.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			resultURL = ""
			err = failAt(stage, fmt.Errorf("unexpected fault: %v", r))
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	fail := func(err error) error {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return failAt(stage, fmt.Errorf("%w after %s", domain.ErrPipelineTimeout, p.config.Timeout))
		}
		return failAt(stage, err)
	}

	scratch, err := os.MkdirTemp(p.config.ScratchDir, "job-"+task.JobID+"-")
	if err != nil {
		return "", failAt(stage, fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			p.logger.Warn("Failed to remove scratch dir",
				slog.String("job_id", task.JobID),
				slog.String("dir", scratch),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	images, err := p.processImages(jobCtx, task, scratch)
	if err != nil {
		return "", fail(err)
	}

	stage = domain.StatusGeneratingStory
	if err := p.advance(jobCtx, runID, task.JobID, stage); err != nil {
		return "", fail(err)
	}
	story, err := p.gen.GenerateStory(jobCtx, p.prompts.Story, images)
	if err != nil {
		return "", fail(err)
	}

	stage = domain.StatusGeneratingImage
	if err := p.advance(jobCtx, runID, task.JobID, stage); err != nil {
		return "", fail(err)
	}
	payload, err := p.gen.GenerateImage(jobCtx, p.prompts.ComposeImagePrompt(story), images)
	if err != nil {
		return "", fail(err)
	}
	if payload.Kind != gemini.PayloadBinary {
		return "", fail(domain.ErrNoImageData)
	}

	stage = domain.StatusUploading
	if err := p.advance(jobCtx, runID, task.JobID, stage); err != nil {
		return "", fail(err)
	}
	resultURL, err = p.blobs.Put(jobCtx, domain.OutputPath(task.JobID), bytes.NewReader(payload.Data), outputContentType)
	if err != nil {
		return "", fail(fmt.Errorf("failed to upload result: %w", err))
	}

	return resultURL, nil
}

// processImages downloads every input concurrently under the download budget and keeps the decodable ones
func (p *Pipeline) processImages(ctx context.Context, task domain.TaskMessage, scratch string) ([]gemini.Image, error) {
	dlCtx, cancel := context.WithTimeout(ctx, p.config.DownloadTimeout)
	defer cancel()

	files := make([]string, len(task.InputURLs))

	g, gctx := errgroup.WithContext(dlCtx)
	for i, url := range task.InputURLs {
		g.Go(func() error {
			dst := filepath.Join(scratch, fmt.Sprintf("input_%d%s", i, path.Ext(url)))
			if err := p.download(gctx, url, dst); err != nil {
				return fmt.Errorf("failed to download input %d: %w", i, err)
			}
			files[i] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(dlCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("image download timed out after %s", p.config.DownloadTimeout)
		}
		return nil, err
	}

	images := make([]gemini.Image, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read downloaded input: %w", err)
		}

		img, err := imaging.DecodeWithLimit(filepath.Base(file), data, p.config.MaxImagePixels)
		if err != nil {
			p.logger.Warn("Skipping invalid image",
				slog.String("job_id", task.JobID),
				slog.String("file", filepath.Base(file)),
				slog.String("error", err.Error()),
			)
			continue
		}
		images = append(images, gemini.Image{Data: img.Data, MIMEType: img.MIMEType})
	}

	if len(images) == 0 {
		return nil, domain.ErrNoValidImages
	}

	p.logger.Info("Inputs processed",
		slog.String("job_id", task.JobID),
		slog.Int("valid", len(images)),
		slog.Int("total", len(files)),
	)
	return images, nil
}

func (p *Pipeline) download(ctx context.Context, url, dst string) error {
	rc, err := p.blobs.Get(ctx, url)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// advance records the next stage before its work starts
func (p *Pipeline) advance(ctx context.Context, runID, jobID string, stage domain.Status) error {
	rec := domain.InProgress(jobID, stage)
	if err := p.status.Transition(ctx, runID, rec); err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	p.mirrorStatus(ctx, rec)
	return nil
}

// mirrorStatus copies a status write to the ledger; failures are only logged
func (p *Pipeline) mirrorStatus(ctx context.Context, rec domain.Record) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.Record(ctx, rec); err != nil {
		p.logger.Warn("Failed to mirror status to ledger",
			slog.String("job_id", rec.JobID),
			slog.String("status", rec.Status.String()),
			slog.String("error", err.Error()),
		)
	}
}

// cleanupInputs deletes the uploaded inputs; failures are only logged
func (p *Pipeline) cleanupInputs(ctx context.Context, task domain.TaskMessage) {
	var g errgroup.Group
	for _, url := range task.InputURLs {
		g.Go(func() error {
			if err := p.blobs.Delete(ctx, url); err != nil {
				p.logger.Warn("Failed to delete input",
					slog.String("job_id", task.JobID),
					slog.String("url", url),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
