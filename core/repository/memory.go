package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediaGen/core/apperr"
	"mediaGen/core/models"
)

// MemoryRepo is the ephemeral Repository used for offline runs and tests.
// Nothing survives a restart.
type MemoryRepo struct {
	mu        sync.Mutex
	nextTask  int64
	nextArt   int64
	tasks     map[int64]*models.Task
	artifacts map[int64]*models.Artifact
	events    []models.TaskEvent
	urlWrites int
	now       func() time.Time
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tasks:     make(map[int64]*models.Task),
		artifacts: make(map[int64]*models.Artifact),
		now:       time.Now,
	}
}

func (r *MemoryRepo) CreateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTask++
	now := r.now()
	task.ID = r.nextTask
	task.CreatedAt = now
	task.UpdatedAt = now

	stored := *task
	r.tasks[task.ID] = &stored
	r.appendEvent(task.ID, "", task.Status, "created")
	return nil
}

func (r *MemoryRepo) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Deleted {
		return nil, ErrTaskNotFound
	}
	out := *t
	return &out, nil
}

func matchesFilter(t *models.Task, f models.TaskFilter) bool {
	if t.Deleted {
		return false
	}
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !t.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func (r *MemoryRepo) ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) ([]*models.Task, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Task
	for _, t := range r.tasks {
		if matchesFilter(t, filter) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}

	out := make([]*models.Task, 0, end-start)
	for _, t := range matched[start:end] {
		cp := *t
		out = append(out, &cp)
	}
	return out, total, nil
}

func (r *MemoryRepo) TransitionStatus(
	ctx context.Context,
	id int64,
	allowedFrom []models.TaskStatus,
	to models.TaskStatus,
	errMsg *string,
	reason string,
) (models.TaskStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Deleted {
		return "", ErrTaskNotFound
	}
	current := t.Status
	if !statusAllowed(current, allowedFrom) {
		return current, &apperr.InvalidTransitionError{TaskID: id, From: string(current), To: string(to)}
	}

	t.Status = to
	if errMsg != nil {
		msg := *errMsg
		t.ErrorMessage = &msg
	} else {
		t.ErrorMessage = nil
	}
	t.UpdatedAt = r.now()
	r.appendEvent(id, current, to, reason)
	return current, nil
}

func (r *MemoryRepo) insertArtifactsLocked(artifacts []*models.Artifact) {
	now := r.now()
	for _, a := range artifacts {
		r.nextArt++
		a.ID = r.nextArt
		a.CreatedAt = now
		a.UpdatedAt = now
		cp := *a
		r.artifacts[a.ID] = &cp
	}
}

func (r *MemoryRepo) CreateArtifacts(ctx context.Context, artifacts []*models.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range artifacts {
		if t, ok := r.tasks[a.TaskID]; !ok || t.Deleted {
			return ErrTaskNotFound
		}
	}
	r.insertArtifactsLocked(artifacts)
	return nil
}

func (r *MemoryRepo) CompleteTask(ctx context.Context, id int64, outputs []*models.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Deleted {
		return ErrTaskNotFound
	}
	if t.Status != models.StatusProcessing {
		return &apperr.InvalidTransitionError{TaskID: id, From: string(t.Status), To: string(models.StatusCompleted)}
	}

	r.insertArtifactsLocked(outputs)
	t.Status = models.StatusCompleted
	t.ErrorMessage = nil
	t.UpdatedAt = r.now()
	r.appendEvent(id, models.StatusProcessing, models.StatusCompleted, "outputs recorded")
	return nil
}

func (r *MemoryRepo) ListArtifacts(ctx context.Context, taskIDs []int64, role *models.ArtifactRole) ([]*models.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[int64]bool, len(taskIDs))
	for _, id := range taskIDs {
		wanted[id] = true
	}

	var out []*models.Artifact
	for _, a := range r.artifacts {
		if !wanted[a.TaskID] || a.Deleted {
			continue
		}
		if role != nil && a.Role != *role {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID != out[j].TaskID {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepo) UpdateAccessURLs(ctx context.Context, urls map[int64]string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.urlWrites++
	now := r.now()
	var n int64
	for id, u := range urls {
		a, ok := r.artifacts[id]
		if !ok {
			continue
		}
		url := u
		a.AccessURL = &url
		a.AccessURLUpdatedAt = &now
		a.UpdatedAt = now
		n++
	}
	return n, nil
}

// URLWrites returns how many batched URL writes have been issued.
func (r *MemoryRepo) URLWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.urlWrites
}

func (r *MemoryRepo) ListEvents(ctx context.Context, taskID int64) ([]models.TaskEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.TaskEvent
	for _, e := range r.events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) appendEvent(taskID int64, from, to models.TaskStatus, reason string) {
	r.events = append(r.events, models.TaskEvent{
		TaskID:     taskID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		CreatedAt:  r.now(),
	})
}
