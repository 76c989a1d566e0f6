package domain

import "errors"

var (
	// ErrJobNotFound is returned when no status record exists for a job (unknown or expired)
	ErrJobNotFound = errors.New("job not found")

	// ErrNoValidImages is returned when none of the supplied images can be decoded
	ErrNoValidImages = errors.New("no valid images found")

	// ErrTooManyImages is returned when a submission exceeds MaxInputImages
	ErrTooManyImages = errors.New("too many images")

	// ErrNoImageData is returned when the image capability answers without an image payload
	ErrNoImageData = errors.New("no image data found in response")

	// ErrUploadFailed is returned when staging inputs to the blob store fails
	ErrUploadFailed = errors.New("failed to upload images")

	// ErrEnqueueFailed is returned when the pipeline task cannot be published
	ErrEnqueueFailed = errors.New("failed to enqueue job")

	// ErrInvalidPayload is returned when a queue message cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrJobAlreadyTerminal is returned when a redelivered task targets a finished job
	ErrJobAlreadyTerminal = errors.New("job already in terminal status")

	// ErrJobAlreadyClaimed is returned when another run already started the job
	ErrJobAlreadyClaimed = errors.New("job already claimed by another run")

	// ErrNotRunOwner is returned when a run writes to a job it no longer owns
	ErrNotRunOwner = errors.New("job is owned by another run")

	// ErrInvalidTransition is returned when a write would move the status backwards
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPipelineTimeout is returned when a run exceeds its overall budget
	ErrPipelineTimeout = errors.New("pipeline timed out")

	// ErrStatusUnavailable is returned when the status store keeps failing for a reader
	ErrStatusUnavailable = errors.New("status store unavailable")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
