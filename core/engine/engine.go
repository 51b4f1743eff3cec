package engine

import (
	"context"
	"fmt"
)

// Output is one raw record returned by a generation engine. It carries an
// inline payload (InlineData), an object-store URI, or, when malformed,
// neither.
type Output struct {
	InlineData []byte
	URI        string
	MIMEType   string
	// Fields are passed through to the normalized artifact untouched.
	Fields map[string]any
}

type Input struct {
	FileName string
	Data     []byte
	MIMEType string
}

type Request struct {
	Prompt string
	Inputs []Input
	Params Params
}

// OperationHandle identifies long-running work inside the engine.
type OperationHandle struct {
	Name    string `json:"name"`
	ModelID string `json:"model_id"`
}

// Result of Invoke: Outputs for synchronous models, Operation for long-running ones.
type Result struct {
	Outputs   []Output
	Operation *OperationHandle
}

// OperationError is an error result reported by the engine for a finished
// operation, as opposed to a failure to reach the engine.
type OperationError struct {
	Code    int
	Message string
}

func (e *OperationError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

type OperationStatus struct {
	Done    bool
	Outputs []Output
	Err     *OperationError
}

type Engine interface {
	Invoke(ctx context.Context, modelID string, req Request) (*Result, error)
	CheckOperation(ctx context.Context, handle OperationHandle) (*OperationStatus, error)
}

// Fetcher downloads an output the engine left behind a URI of its own
// (a Files API download link, for instance).
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}
