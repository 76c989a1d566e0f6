package statusstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/panel-one/internal/domain"
)

const (
	fieldStatus       = "status"
	fieldResultURL    = "result_url"
	fieldErrorMessage = "error_message"
	fieldUpdatedAt    = "updated_at"
	fieldRunID        = "run_id"

	maxWatchRetries = 3
)

// RedisStore keeps each record in a hash at <prefix><job_id>
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed status store
func NewRedisStore(rdb *goredis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "job:"
	}
	if ttl <= 0 {
		ttl = domain.DefaultStatusTTL
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (s *RedisStore) key(jobID string) string {
	return s.prefix + jobID
}

// Put replaces the record atomically and refreshes its TTL
func (s *RedisStore) Put(ctx context.Context, rec domain.Record) error {
	key := s.key(rec.JobID)

	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		s.replace(ctx, pipe, key, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", rec.JobID),
		slog.String("status", rec.Status.String()),
	)

	return nil
}

func (s *RedisStore) replace(ctx context.Context, pipe goredis.Pipeliner, key string, rec domain.Record) {
	fields := map[string]interface{}{
		fieldStatus:    rec.Status.String(),
		fieldUpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if rec.ResultURL != "" {
		fields[fieldResultURL] = rec.ResultURL
	}
	if rec.ErrorMessage != "" {
		fields[fieldErrorMessage] = rec.ErrorMessage
	}
	if rec.RunID != "" {
		fields[fieldRunID] = rec.RunID
	}

	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
}

// Get reads the record; an empty hash means unknown or expired
func (s *RedisStore) Get(ctx context.Context, jobID string) (domain.Record, error) {
	values, err := s.rdb.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to read job status: %w", err)
	}
	return decode(jobID, values)
}

func decode(jobID string, values map[string]string) (domain.Record, error) {
	if len(values) == 0 {
		return domain.Record{}, domain.ErrJobNotFound
	}

	status, ok := domain.ParseStatus(values[fieldStatus])
	if !ok {
		return domain.Record{}, fmt.Errorf("invalid status %q stored for job %s", values[fieldStatus], jobID)
	}

	rec := domain.Record{
		JobID:        jobID,
		Status:       status,
		ResultURL:    values[fieldResultURL],
		ErrorMessage: values[fieldErrorMessage],
		RunID:        values[fieldRunID],
	}
	if ts, err := time.Parse(time.RFC3339Nano, values[fieldUpdatedAt]); err == nil {
		rec.UpdatedAt = ts
	}

	return rec, nil
}

// Delete removes the record
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.rdb.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job status: %w", err)
	}
	return nil
}

// Claim moves a QUEUED record to PROCESSING_IMAGES and stamps a fresh run ID.
// Only the returned run ID can write the job afterwards.
func (s *RedisStore) Claim(ctx context.Context, jobID string) (string, error) {
	runID := uuid.NewString()
	next := domain.InProgress(jobID, domain.StatusProcessingImages)
	next.RunID = runID

	err := s.compareAndPut(ctx, jobID, func(current domain.Record) (domain.Record, error) {
		switch {
		case current.Status.IsTerminal():
			return domain.Record{}, domain.ErrJobAlreadyTerminal
		case current.Status != domain.StatusQueued:
			return domain.Record{}, domain.ErrJobAlreadyClaimed
		}
		return next, nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("run_id", runID),
	)
	return runID, nil
}

// Transition writes rec on behalf of runID.
// The write is rejected unless runID still owns the job and the status moves forward.
func (s *RedisStore) Transition(ctx context.Context, runID string, rec domain.Record) error {
	err := s.compareAndPut(ctx, rec.JobID, func(current domain.Record) (domain.Record, error) {
		if current.RunID != runID {
			return domain.Record{}, domain.ErrNotRunOwner
		}
		if current.Status.IsTerminal() {
			return domain.Record{}, domain.ErrJobAlreadyTerminal
		}
		if !current.Status.CanAdvanceTo(rec.Status) {
			return domain.Record{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, rec.Status)
		}
		next := rec
		next.RunID = runID
		return next, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", rec.JobID),
		slog.String("status", rec.Status.String()),
	)
	return nil
}

// FailIfStale flips a non-terminal record last written before cutoff to FAILED.
// It returns the written record and whether it did.
func (s *RedisStore) FailIfStale(ctx context.Context, jobID string, cutoff time.Time) (domain.Record, bool, error) {
	errFresh := errors.New("fresh")

	var failed domain.Record
	err := s.compareAndPut(ctx, jobID, func(current domain.Record) (domain.Record, error) {
		if current.Status.IsTerminal() || !current.UpdatedAt.Before(cutoff) {
			return domain.Record{}, errFresh
		}
		failed = domain.Failed(jobID, domain.StalledMessage(current.Status))
		return failed, nil
	})

	switch {
	case err == nil:
		s.logger.Warn("Stale job failed by deadline",
			slog.String("job_id", jobID),
			slog.String("error_message", failed.ErrorMessage),
		)
		return failed, true, nil
	case errors.Is(err, errFresh), errors.Is(err, domain.ErrJobNotFound):
		return domain.Record{}, false, nil
	default:
		return domain.Record{}, false, err
	}
}

// compareAndPut writes whatever decide returns for the current record, using WATCH for optimistic locking
func (s *RedisStore) compareAndPut(ctx context.Context, jobID string, decide func(current domain.Record) (domain.Record, error)) error {
	key := s.key(jobID)

	txf := func(tx *goredis.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read job status: %w", err)
		}

		current, err := decode(jobID, values)
		if err != nil {
			return err
		}

		next, err := decide(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.replace(ctx, pipe, key, next)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("job %s status changed concurrently %d times", jobID, maxWatchRetries)
}

var _ Store = (*RedisStore)(nil)
