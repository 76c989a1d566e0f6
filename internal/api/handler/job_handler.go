package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/panel-one/internal/api/dto"
	"github.com/cuongbtq/panel-one/internal/api/gateway"
	"github.com/cuongbtq/panel-one/internal/domain"
)

// formField is the multipart field carrying the images
const formField = "images"

// Generate handles POST /generate
// Accepts 1..8 images as multipart "images" parts and queues a generation job
func (h *JobHandler) Generate(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		h.logger.Warn("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid multipart form"})
		return
	}

	files := form.File[formField]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "at least one image is required"})
		return
	}
	if len(files) > domain.MaxInputImages {
		h.respondSubmitError(c, fmt.Errorf("%w: got %d, at most %d allowed", domain.ErrTooManyImages, len(files), domain.MaxInputImages))
		return
	}

	uploads, err := readUploads(files)
	if err != nil {
		h.logger.Error("Failed to read uploads", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read uploaded files"})
		return
	}

	sub, err := h.gateway.Submit(c.Request.Context(), uploads)
	if err != nil {
		h.respondSubmitError(c, err)
		return
	}

	resp := dto.GenerateResponse{
		JobID:  sub.JobID,
		Status: sub.Status.String(),
	}
	for _, r := range sub.Rejected {
		resp.Skipped = append(resp.Skipped, dto.SkippedFile{Name: r.Name, Reason: r.Err.Error()})
	}

	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) respondSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNoValidImages):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: domain.ErrNoValidImages.Error()})
	case errors.Is(err, domain.ErrTooManyImages):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrUploadFailed):
		h.logger.Error("Submission upload failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrEnqueueFailed):
		h.logger.Error("Submission enqueue failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: domain.ErrEnqueueFailed.Error()})
	default:
		h.logger.Error("Submission failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to submit job"})
	}
}

func readUploads(files []*multipart.FileHeader) ([]gateway.Upload, error) {
	uploads := make([]gateway.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fh.Filename, err)
		}
		uploads = append(uploads, gateway.Upload{Name: fh.Filename, Data: data})
	}
	return uploads, nil
}

// GetJob handles GET /job/:job_id
// Returns the current status snapshot of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	rec, err := h.notifier.Poll(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
			return
		}
		h.logger.Error("Failed to read job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "status temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, dto.FromRecord(rec))
}

// jobIDParam answers 404 for ids that could never have been issued, without touching the store
func jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return "", false
	}
	return jobID, true
}

