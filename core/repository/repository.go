package repository

import (
	"context"
	"errors"

	"mediaGen/core/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")
)

// Repository persists tasks, their artifacts, and the transition log.
// PostgresRepo is the durable implementation; MemoryRepo is the ephemeral one.
type Repository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) ([]*models.Task, int, error)

	// TransitionStatus moves the task to `to` when its current status is one of
	// allowedFrom, recording errMsg and a task_events row. It returns the
	// previous status.
	TransitionStatus(ctx context.Context, id int64, allowedFrom []models.TaskStatus, to models.TaskStatus, errMsg *string, reason string) (models.TaskStatus, error)

	CreateArtifacts(ctx context.Context, artifacts []*models.Artifact) error
	// CompleteTask inserts the OUTPUT artifacts and moves the task from
	// PROCESSING to COMPLETED atomically.
	CompleteTask(ctx context.Context, id int64, outputs []*models.Artifact) error
	ListArtifacts(ctx context.Context, taskIDs []int64, role *models.ArtifactRole) ([]*models.Artifact, error)
	// UpdateAccessURLs writes all cached URLs in one statement and returns the
	// number of rows touched.
	UpdateAccessURLs(ctx context.Context, urls map[int64]string) (int64, error)

	ListEvents(ctx context.Context, taskID int64) ([]models.TaskEvent, error)
}

func statusAllowed(current models.TaskStatus, allowed []models.TaskStatus) bool {
	for _, s := range allowed {
		if s == current {
			return true
		}
	}
	return false
}
