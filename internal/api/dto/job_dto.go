package dto

import "github.com/cuongbtq/panel-one/internal/domain"

// JobResponse is the wire shape of a job status, shared by poll and stream
type JobResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// GenerateResponse is returned by POST /generate
type GenerateResponse struct {
	JobID   string        `json:"job_id"`
	Status  string        `json:"status"`
	Skipped []SkippedFile `json:"skipped,omitempty"`
}

// SkippedFile names an upload that failed validation
type SkippedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromRecord maps a status record to its wire shape
func FromRecord(rec domain.Record) JobResponse {
	return JobResponse{
		JobID:        rec.JobID,
		Status:       rec.Status.String(),
		ResultURL:    rec.ResultURL,
		ErrorMessage: rec.ErrorMessage,
	}
}
