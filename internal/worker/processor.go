package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/panel-one/internal/domain"
)

// processJob runs one delivery. A nil return means the delivery is settled and should be ACKed.
func (w *Worker) processJob(ctx context.Context, msg domain.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job runner panicked",
				slog.String("job_id", msg.Task.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("job runner panicked: %v", r)
		}
	}()

	err = w.runner.Run(ctx, msg.Task)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, domain.ErrJobAlreadyTerminal),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrJobAlreadyClaimed),
		errors.Is(err, domain.ErrNotRunOwner):
		w.logger.Info("Skipping task for settled job",
			slog.String("job_id", msg.Task.JobID),
			slog.String("reason", err.Error()),
		)
		return nil
	}

	var retryable *domain.RetryableError
	if errors.As(err, &retryable) && msg.Redelivered {
		w.logger.Warn("Dropping redelivered task after repeated failure",
			slog.String("job_id", msg.Task.JobID),
			slog.String("error", retryable.Err.Error()),
		)
		return fmt.Errorf("redelivered task failed again: %v", retryable.Err)
	}

	return err
}
