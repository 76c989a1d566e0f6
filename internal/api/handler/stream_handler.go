package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cuongbtq/panel-one/internal/api/dto"
	"github.com/cuongbtq/panel-one/internal/domain"
)

// CloseJobNotFound is the close code sent when the job stays unknown
const CloseJobNotFound = 4404

// StreamJob handles GET /ws/:job_id
// Pushes the job status on every change and closes after the terminal status
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Client messages are discarded; a read error means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("Stream opened", slog.String("job_id", jobID))

	err = h.notifier.Watch(ctx, jobID, func(rec domain.Record) error {
		if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(dto.FromRecord(rec))
	})

	code, text := closeFrame(err)
	if code == 0 {
		h.logger.Info("Stream closed by client",
			slog.String("job_id", jobID),
		)
		return
	}

	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout)); err != nil {
		h.logger.Debug("Failed to send close frame",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Stream closed",
		slog.String("job_id", jobID),
		slog.Int("code", code),
	)
}

// closeFrame maps the end of a watch to a close code; 0 means the client already left
func closeFrame(err error) (int, string) {
	switch {
	case err == nil:
		return websocket.CloseNormalClosure, "job finished"
	case errors.Is(err, domain.ErrJobNotFound):
		return CloseJobNotFound, "job not found"
	case errors.Is(err, domain.ErrStatusUnavailable):
		return websocket.CloseInternalServerErr, "status unavailable"
	default:
		return 0, ""
	}
}
