package dto

import "encoding/json"

type InputFileRequest struct {
	FileName         string `json:"file_name"`
	MIMEType         string `json:"mime_type,omitempty"`
	Data             string `json:"data"`
	AspectRatio      string `json:"aspect_ratio,omitempty"`
	ForceObjectStore bool   `json:"force_object_store,omitempty"`
}

type CreateTaskRequest struct {
	UserID           string             `json:"user_id"`
	Source           string             `json:"source"`
	ModelID          string             `json:"model_id"`
	Prompt           string             `json:"prompt"`
	TranslatedPrompt *string            `json:"translated_prompt,omitempty"`
	Params           json.RawMessage    `json:"params,omitempty"`
	Inputs           []InputFileRequest `json:"inputs"`
}

type ArtifactResponse struct {
	ID          int64  `json:"id"`
	FileName    string `json:"file_name"`
	MIMEType    string `json:"mime_type"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	StorageKind string `json:"storage_kind"`
	URL         string `json:"url,omitempty"`
	Stale       bool   `json:"stale,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

type TaskResponse struct {
	ID           int64              `json:"id"`
	TraceID      string             `json:"trace_id,omitempty"`
	UserID       string             `json:"user_id"`
	Source       string             `json:"source"`
	ModelID      string             `json:"model_id"`
	Prompt       string             `json:"prompt,omitempty"`
	Status       string             `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at"`
	Inputs       []ArtifactResponse `json:"inputs,omitempty"`
	Outputs      []ArtifactResponse `json:"outputs,omitempty"`
}

type TaskListResponse struct {
	Tasks    []TaskResponse `json:"tasks"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type StatusResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Cached bool   `json:"cached"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
