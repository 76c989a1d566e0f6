package domain

import "time"

// Status is the wire value of a job's progress through the generation pipeline.
type Status string

// Job status constants, in pipeline order
const (
	StatusQueued           Status = "QUEUED"
	StatusProcessingImages Status = "PROCESSING_IMAGES"
	StatusGeneratingStory  Status = "GENERATING_STORY"
	StatusGeneratingImage  Status = "GENERATING_IMAGE"
	StatusUploading        Status = "UPLOADING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

const (
	// MaxInputImages is the upper bound of images accepted per job
	MaxInputImages = 8

	// DefaultStatusTTL is how long a status record survives after its last write
	DefaultStatusTTL = 24 * time.Hour
)

var stageOrder = map[Status]int{
	StatusQueued:           0,
	StatusProcessingImages: 1,
	StatusGeneratingStory:  2,
	StatusGeneratingImage:  3,
	StatusUploading:        4,
	StatusCompleted:        5,
	StatusFailed:           5,
}

// ParseStatus converts a stored wire value into a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := stageOrder[st]
	return st, ok
}

// IsTerminal reports whether no further transitions can follow.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank returns the position of the status in the pipeline order.
// Both terminal states share the last rank.
func (s Status) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether next is a legal successor of s within one run.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.Rank() > s.Rank()
}

func (s Status) String() string {
	return string(s)
}

// Record is the persisted status of a job.
// ResultURL is set only on COMPLETED, ErrorMessage only on FAILED.
type Record struct {
	JobID        string    `json:"job_id"`
	Status       Status    `json:"status"`
	ResultURL    string    `json:"result_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"-"`

	// RunID identifies the worker run that owns the job; empty until claimed
	RunID string `json:"-"`
}

// Queued builds the initial record written by the gateway.
func Queued(jobID string) Record {
	return Record{JobID: jobID, Status: StatusQueued}
}

// Completed builds the success record.
func Completed(jobID, resultURL string) Record {
	return Record{JobID: jobID, Status: StatusCompleted, ResultURL: resultURL}
}

// Failed builds the failure record.
func Failed(jobID, message string) Record {
	if message == "" {
		message = "unknown error"
	}
	return Record{JobID: jobID, Status: StatusFailed, ErrorMessage: message}
}

// NotPickedUpMessage is the error_message of a job no worker ever claimed.
const NotPickedUpMessage = "job was not picked up before deadline"

// StalledMessage is the error_message of a job abandoned in status s.
func StalledMessage(s Status) string {
	if s == StatusQueued {
		return NotPickedUpMessage
	}
	return "job stalled at " + string(s)
}

// InProgress builds the record of a non-terminal stage.
func InProgress(jobID string, status Status) Record {
	return Record{JobID: jobID, Status: status}
}

// TaskMessage is the queue payload that drives one pipeline run.
type TaskMessage struct {
	JobID      string    `json:"job_id"`
	InputURLs  []string  `json:"input_urls"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a task message received from the queue together with its ack handle.
type Delivery struct {
	Task        TaskMessage
	DeliveryTag uint64
	Redelivered bool
}
