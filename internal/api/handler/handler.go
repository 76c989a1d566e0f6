package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuongbtq/panel-one/internal/api/gateway"
	"github.com/cuongbtq/panel-one/internal/domain"
)

const defaultStreamWriteTimeout = 10 * time.Second

// Submitter turns uploads into a queued job
type Submitter interface {
	Submit(ctx context.Context, uploads []gateway.Upload) (gateway.Submission, error)
}

// StatusNotifier serves poll and stream reads
type StatusNotifier interface {
	Poll(ctx context.Context, jobID string) (domain.Record, error)
	Watch(ctx context.Context, jobID string, emit func(domain.Record) error) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger             *slog.Logger
	Gateway            Submitter
	Notifier           StatusNotifier
	MaxUploadBytes     int64
	StreamWriteTimeout time.Duration
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	gateway        Submitter
	notifier       StatusNotifier
	maxUploadBytes int64
	writeTimeout   time.Duration
	upgrader       websocket.Upgrader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	writeTimeout := deps.StreamWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultStreamWriteTimeout
	}

	return &JobHandler{
		logger:         deps.Logger,
		gateway:        deps.Gateway,
		notifier:       deps.Notifier,
		maxUploadBytes: deps.MaxUploadBytes,
		writeTimeout:   writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// same open policy as CORSMiddleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}
