// Package queue carries pipeline tasks between the gateway and the worker over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/panel-one/internal/domain"
)

const contentTypeJSON = "application/json"

// Publisher is the transport the Enqueuer writes to
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Enqueuer publishes one task per accepted submission
type Enqueuer struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEnqueuer creates an Enqueuer on top of publisher
func NewEnqueuer(publisher Publisher, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue publishes the task for jobID; the returned error wraps domain.ErrEnqueueFailed
func (e *Enqueuer) Enqueue(ctx context.Context, jobID string, inputURLs []string) error {
	task := domain.TaskMessage{
		JobID:      jobID,
		InputURLs:  inputURLs,
		EnqueuedAt: e.now().UTC(),
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, err)
	}

	if err := e.publisher.PublishWithRetry(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEnqueueFailed, err)
	}

	e.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.Int("inputs", len(inputURLs)),
	)
	return nil
}

// Decode parses and validates a task body; failures wrap domain.ErrInvalidPayload
func Decode(body []byte) (domain.TaskMessage, error) {
	var task domain.TaskMessage
	if err := json.Unmarshal(body, &task); err != nil {
		return task, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if _, err := uuid.Parse(task.JobID); err != nil {
		return task, fmt.Errorf("%w: job_id %q is not a UUID", domain.ErrInvalidPayload, task.JobID)
	}

	if len(task.InputURLs) == 0 {
		return task, fmt.Errorf("%w: no input urls", domain.ErrInvalidPayload)
	}
	if len(task.InputURLs) > domain.MaxInputImages {
		return task, fmt.Errorf("%w: %d input urls", domain.ErrInvalidPayload, len(task.InputURLs))
	}

	return task, nil
}
