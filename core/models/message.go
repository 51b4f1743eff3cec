package models

import "encoding/json"

// GenerationMessage is published by the API after a task and its inputs are
// recorded, and consumed by the worker that runs the generation.
type GenerationMessage struct {
	TaskID  int64           `json:"task_id"`
	TraceID string          `json:"trace_id"`
	ModelID string          `json:"model_id"`
	Params  json.RawMessage `json:"params,omitempty"`
}
