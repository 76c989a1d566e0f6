package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/queue"
)

// setupConsumer starts consuming with the worker ID as consumer tag
func (w *Worker) setupConsumer(ctx context.Context) (<-chan queue.Message, error) {
	deliveries, err := w.source.Consume(ctx, w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// ErrDeliveryClosed is returned when the broker closes the delivery stream while the worker still runs
var ErrDeliveryClosed = errors.New("delivery channel closed")

// startMessageDispatcher decodes deliveries and hands them to the pool.
// It returns nil when ctx ends and ErrDeliveryClosed when the stream does.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan queue.Message) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case msg, ok := <-deliveries:
			if !ok {
				w.logger.Error("Delivery channel closed",
					slog.String("worker_id", w.workerID),
				)
				return ErrDeliveryClosed
			}

			task, err := queue.Decode(msg.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed task",
					slog.String("error", err.Error()),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
				// malformed messages never become valid; drop to the dead-letter path
				if nackErr := w.source.Nack(msg.DeliveryTag, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			delivery := domain.Delivery{
				Task:        task,
				DeliveryTag: msg.DeliveryTag,
				Redelivered: msg.Redelivered,
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", task.JobID),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := w.source.Nack(msg.DeliveryTag, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			}
		}
	}
}
