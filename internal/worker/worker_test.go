package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/internal/queue"
	"github.com/cuongbtq/panel-one/shared/logger"
)

type settlement struct {
	acked   bool
	requeue bool
}

type fakeSource struct {
	ch chan queue.Message

	mu      sync.Mutex
	settled map[uint64]settlement
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ch:      make(chan queue.Message, 16),
		settled: make(map[uint64]settlement),
	}
}

func (f *fakeSource) Consume(context.Context, string) (<-chan queue.Message, error) {
	return f.ch, nil
}

func (f *fakeSource) Ack(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled[tag] = settlement{acked: true}
	return nil
}

func (f *fakeSource) Nack(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled[tag] = settlement{requeue: requeue}
	return nil
}

func (f *fakeSource) get(tag uint64) (settlement, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settled[tag]
	return s, ok
}

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	fn   func(task domain.TaskMessage) error
}

func (r *fakeRunner) Run(_ context.Context, task domain.TaskMessage) error {
	r.mu.Lock()
	r.runs = append(r.runs, task.JobID)
	r.mu.Unlock()
	if r.fn == nil {
		return nil
	}
	return r.fn(task)
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func taskBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(domain.TaskMessage{
		JobID:     uuid.New().String(),
		InputURLs: []string{"http://localhost/blobs/inputs/x/image_0.png"},
	})
	require.NoError(t, err)
	return body
}

func TestWorker_Settlement(t *testing.T) {
	tests := []struct {
		name        string
		body        []byte
		redelivered bool
		runErr      error
		panics      bool
		want        settlement
		wantRuns    int
	}{
		{
			name:     "completed run is acked",
			want:     settlement{acked: true},
			wantRuns: 1,
		},
		{
			name:     "terminal job is skipped",
			runErr:   domain.ErrJobAlreadyTerminal,
			want:     settlement{acked: true},
			wantRuns: 1,
		},
		{
			name:     "expired job is skipped",
			runErr:   domain.ErrJobNotFound,
			want:     settlement{acked: true},
			wantRuns: 1,
		},
		{
			name:     "job held by another run is skipped",
			runErr:   domain.ErrJobAlreadyClaimed,
			want:     settlement{acked: true},
			wantRuns: 1,
		},
		{
			name:     "run that lost ownership is acked",
			runErr:   domain.ErrNotRunOwner,
			want:     settlement{acked: true},
			wantRuns: 1,
		},
		{
			name:     "claim failure is requeued once",
			runErr:   domain.NewRetryableError(errors.New("redis: connection refused")),
			want:     settlement{requeue: true},
			wantRuns: 1,
		},
		{
			name:        "redelivered claim failure is dropped",
			redelivered: true,
			runErr:      domain.NewRetryableError(errors.New("redis: connection refused")),
			want:        settlement{requeue: false},
			wantRuns:    1,
		},
		{
			name:     "terminal write failure is not requeued",
			runErr:   fmt.Errorf("%w: timeout", domain.ErrStatusUnavailable),
			want:     settlement{requeue: false},
			wantRuns: 1,
		},
		{
			name:     "runner panic is contained",
			panics:   true,
			want:     settlement{requeue: false},
			wantRuns: 1,
		},
		{
			name:     "malformed body never reaches the runner",
			body:     []byte(`{"job_id":"nope"}`),
			want:     settlement{requeue: false},
			wantRuns: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeSource()
			runner := &fakeRunner{fn: func(domain.TaskMessage) error {
				if tt.panics {
					panic("boom")
				}
				return tt.runErr
			}}

			w := NewWorker(&Config{
				Logger:      logger.NewNop(),
				Source:      source,
				Runner:      runner,
				WorkerID:    "test-worker",
				Concurrency: 2,
			})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- w.Start(ctx) }()

			body := tt.body
			if body == nil {
				body = taskBody(t)
			}
			source.ch <- queue.Message{Body: body, DeliveryTag: 7, Redelivered: tt.redelivered}

			require.Eventually(t, func() bool {
				_, ok := source.get(7)
				return ok
			}, 2*time.Second, 5*time.Millisecond)

			cancel()
			require.NoError(t, <-done)
			w.Stop()

			got, _ := source.get(7)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRuns, runner.count())
		})
	}
}

func TestWorker_KeepsConsumingAfterPanic(t *testing.T) {
	source := newFakeSource()
	calls := 0
	var mu sync.Mutex
	runner := &fakeRunner{fn: func(domain.TaskMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("first job explodes")
		}
		return nil
	}}

	w := NewWorker(&Config{
		Logger:      logger.NewNop(),
		Source:      source,
		Runner:      runner,
		WorkerID:    "test-worker",
		Concurrency: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	source.ch <- queue.Message{Body: taskBody(t), DeliveryTag: 1}
	source.ch <- queue.Message{Body: taskBody(t), DeliveryTag: 2}

	require.Eventually(t, func() bool {
		s, ok := source.get(2)
		return ok && s.acked
	}, 2*time.Second, 5*time.Millisecond)

	first, _ := source.get(1)
	assert.False(t, first.acked)

	cancel()
	w.Stop()
}

func TestWorker_StartFailsWhenDeliveriesClose(t *testing.T) {
	source := newFakeSource()
	runner := &fakeRunner{}

	w := NewWorker(&Config{
		Logger:      logger.NewNop(),
		Source:      source,
		Runner:      runner,
		WorkerID:    "test-worker",
		Concurrency: 1,
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	source.ch <- queue.Message{Body: taskBody(t), DeliveryTag: 3}
	close(source.ch)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeliveryClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the delivery channel closed")
	}

	w.Stop()
	got, ok := source.get(3)
	require.True(t, ok)
	assert.True(t, got.acked)
}

func TestWorker_StartRequiresDependencies(t *testing.T) {
	w := NewWorker(&Config{Logger: logger.NewNop()})
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable", domain.NewRetryableError(errors.New("x")), true},
		{"wrapped retryable", fmt.Errorf("claim: %w", domain.NewRetryableError(errors.New("x"))), true},
		{"invalid payload", domain.ErrInvalidPayload, false},
		{"plain error", errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}
