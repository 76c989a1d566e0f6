package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/panel-one/internal/domain"
	"github.com/cuongbtq/panel-one/shared/logger"
)

type fakePublisher struct {
	bodies       [][]byte
	contentTypes []string
	err          error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	f.contentTypes = append(f.contentTypes, contentType)
	return nil
}

const testJobID = "5f0c6f0e-8c1b-4e43-9a59-3d2f7c1e9b10"

func TestEnqueuer_Enqueue(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEnqueuer(pub, logger.NewNop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	urls := []string{"http://blobs/inputs/a.png", "http://blobs/inputs/b.png"}
	require.NoError(t, e.Enqueue(context.Background(), testJobID, urls))

	require.Len(t, pub.bodies, 1)
	assert.Equal(t, "application/json", pub.contentTypes[0])

	var task domain.TaskMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &task))
	assert.Equal(t, testJobID, task.JobID)
	assert.Equal(t, urls, task.InputURLs)
	assert.True(t, fixed.Equal(task.EnqueuedAt))
}

func TestEnqueuer_EnqueueFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	e := NewEnqueuer(pub, logger.NewNop())

	err := e.Enqueue(context.Background(), testJobID, []string{"http://blobs/a.png"})

	assert.ErrorIs(t, err, domain.ErrEnqueueFailed)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestDecode(t *testing.T) {
	tooMany := make([]string, domain.MaxInputImages+1)
	for i := range tooMany {
		tooMany[i] = "http://blobs/x.png"
	}
	tooManyBody, _ := json.Marshal(domain.TaskMessage{JobID: testJobID, InputURLs: tooMany})

	tests := []struct {
		name    string
		body    string
		wantErr bool
		errText string
	}{
		{
			name: "valid task",
			body: `{"job_id":"` + testJobID + `","input_urls":["http://blobs/a.png"],"enqueued_at":"2026-01-01T00:00:00Z"}`,
		},
		{
			name:    "malformed json",
			body:    `{"job_id":`,
			wantErr: true,
		},
		{
			name:    "job id not a uuid",
			body:    `{"job_id":"abc","input_urls":["http://blobs/a.png"]}`,
			wantErr: true,
			errText: "not a UUID",
		},
		{
			name:    "no inputs",
			body:    `{"job_id":"` + testJobID + `","input_urls":[]}`,
			wantErr: true,
			errText: "no input urls",
		},
		{
			name:    "too many inputs",
			body:    string(tooManyBody),
			wantErr: true,
			errText: "9 input urls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := Decode([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				if tt.errText != "" {
					assert.True(t, strings.Contains(err.Error(), tt.errText), err.Error())
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testJobID, task.JobID)
		})
	}
}
