package models

import (
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition may leave the status.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Task struct {
	ID               int64      `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	Source           string     `db:"source" json:"source"`
	Prompt           string     `db:"prompt" json:"prompt"`
	TranslatedPrompt *string    `db:"translated_prompt" json:"translated_prompt,omitempty"`
	ModelID          string     `db:"model_id" json:"model_id"`
	Status           TaskStatus `db:"status" json:"status"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	Deleted          bool       `db:"deleted" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// TaskFilter narrows listTasks. Zero values mean "no constraint".
type TaskFilter struct {
	UserID        string
	Source        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

type Page struct {
	Number int
	Size   int
}

const MaxPageSize = 100

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// TaskEvent is one row of the transition log.
type TaskEvent struct {
	TaskID     int64      `db:"task_id"`
	FromStatus TaskStatus `db:"from_status"`
	ToStatus   TaskStatus `db:"to_status"`
	Reason     string     `db:"reason"`
	CreatedAt  time.Time  `db:"created_at"`
}
