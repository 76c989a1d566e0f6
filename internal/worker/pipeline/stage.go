package pipeline

import (
	"fmt"

	"github.com/cuongbtq/panel-one/internal/domain"
)

// StageError is the failed outcome of one pipeline stage
type StageError struct {
	Stage domain.Status
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func failAt(stage domain.Status, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// FailureMessage renders the human-readable error_message for a failed run
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
