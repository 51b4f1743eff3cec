// Package apperr holds the error taxonomy shared by the orchestration core.
// Callers match these with errors.As.
package apperr

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError reports a state machine misuse or a lost race.
type InvalidTransitionError struct {
	TaskID int64
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %d: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

type StorageUploadError struct {
	Destination string
	Err         error
}

func (e *StorageUploadError) Error() string {
	return fmt.Sprintf("upload to %s: %v", e.Destination, e.Err)
}

func (e *StorageUploadError) Unwrap() error { return e.Err }

// MalformedOutputError marks one engine output record with an unrecognised shape.
type MalformedOutputError struct {
	Index  int
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("output %d malformed: %s", e.Index, e.Reason)
}

// PollTimeoutError means the operation did not reach a terminal state within
// the attempt budget. The operation may still be running remotely.
type PollTimeoutError struct {
	Operation string
	Attempts  int
	Elapsed   time.Duration
	LastErr   error
}

func (e *PollTimeoutError) Error() string {
	msg := fmt.Sprintf("operation %s still running after %d attempts (%s)", e.Operation, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *PollTimeoutError) Unwrap() error { return e.LastErr }

// BatchError is returned by batch operations when at least one item failed.
// Succeeded lists the indices that completed.
type BatchError struct {
	Op        string
	Succeeded []int
	Failed    map[int]error
}

func (e *BatchError) Error() string {
	idx := e.FailedIndices()
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("[%d] %v", i, e.Failed[i]))
	}
	return fmt.Sprintf("%s: %d of %d failed: %s", e.Op, len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(parts, "; "))
}

func (e *BatchError) FailedIndices() []int {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Unwrap exposes the per-item errors so errors.As can find a typed cause.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, i := range e.FailedIndices() {
		errs = append(errs, e.Failed[i])
	}
	return errs
}
