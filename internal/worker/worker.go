package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/queue"
)

// Source delivers raw task messages and settles them
type Source interface {
	Consume(ctx context.Context, consumerTag string) (<-chan queue.Message, error)
	Ack(deliveryTag uint64) error
	Nack(deliveryTag uint64, requeue bool) error
}

// Runner executes one task to a terminal status
type Runner interface {
	Run(ctx context.Context, task domain.TaskMessage) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Source      Source
	Runner      Runner
	Watchdog    *Watchdog
	WorkerID    string
	Concurrency int
}

// Worker consumes pipeline tasks and runs them on a fixed pool of goroutines
type Worker struct {
	logger      *slog.Logger
	source      Source
	runner      Runner
	watchdog    *Watchdog
	workerID    string
	concurrency int
	jobsChan    chan domain.Delivery
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		logger:      cfg.Logger,
		source:      cfg.Source,
		runner:      cfg.Runner,
		watchdog:    cfg.Watchdog,
		workerID:    cfg.WorkerID,
		concurrency: concurrency,
		jobsChan:    make(chan domain.Delivery),
	}
}

// Start consumes until ctx is canceled, then returns nil.
// If the broker closes the delivery stream first it returns ErrDeliveryClosed.
// Jobs already running when Start returns keep going until Stop returns.
func (w *Worker) Start(ctx context.Context) error {
	if w.source == nil || w.runner == nil {
		return errors.New("worker requires a source and a runner")
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(context.WithoutCancel(ctx))

	if w.watchdog != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.watchdog.Run(ctx)
		}()
	}

	err = w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)

	return err
}

// Stop waits for in-flight jobs to settle
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}
