package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mediaGen/api/dto"
	"mediaGen/api/kafka"
	"mediaGen/api/validation"
	"mediaGen/core/apperr"
	"mediaGen/core/cache"
	"mediaGen/core/engine"
	"mediaGen/core/lifecycle"
	"mediaGen/core/models"
	"mediaGen/core/urlcache"
)

const timeFormat = "2006-01-02T15:04:05Z"

// StatusReader is the read side of the Redis status cache.
type StatusReader interface {
	Get(ctx context.Context, taskID int64) (models.TaskStatus, error)
	Set(ctx context.Context, taskID int64, status models.TaskStatus) error
}

type TaskService struct {
	manager     *lifecycle.Manager
	catalog     *engine.Catalog
	cache       StatusReader
	producer    kafka.Producer
	topic       string
	maxFileSize int64
	logger      *zap.Logger
}

func NewTaskService(
	manager *lifecycle.Manager,
	catalog *engine.Catalog,
	cache StatusReader,
	producer kafka.Producer,
	topic string,
	maxFileSize int64,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		manager:     manager,
		catalog:     catalog,
		cache:       cache,
		producer:    producer,
		topic:       topic,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// CreateTask validates the request, records the task and its inputs, and
// queues it for the worker. Once the task row exists, any later failure marks
// the task FAILED.
func (s *TaskService) CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
	spec, err := s.catalog.Lookup(req.ModelID)
	if err != nil {
		return nil, err
	}
	if _, err := engine.DecodeParams(spec.Family, req.Params); err != nil {
		return nil, err
	}

	files := make([]lifecycle.InputFile, 0, len(req.Inputs))
	for i, in := range req.Inputs {
		data, mimeType, err := validation.DecodeInput(in.Data, in.MIMEType, s.maxFileSize)
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("inputs[%d]", i), err.Error())
		}
		files = append(files, lifecycle.InputFile{
			FileName:         in.FileName,
			MIMEType:         mimeType,
			Data:             data,
			AspectRatio:      in.AspectRatio,
			ForceObjectStore: in.ForceObjectStore,
		})
	}

	taskID, err := s.manager.CreateTask(ctx, lifecycle.CreateTaskParams{
		UserID:           req.UserID,
		Source:           req.Source,
		ModelID:          req.ModelID,
		Prompt:           req.Prompt,
		TranslatedPrompt: req.TranslatedPrompt,
	})
	if err != nil {
		return nil, err
	}

	var inputs []*models.Artifact
	if len(files) > 0 {
		inputs, err = s.manager.RecordInputArtifacts(ctx, taskID, files)
		if err != nil {
			s.manager.FailQuietly(ctx, taskID, "failed to record inputs: "+err.Error())
			return nil, err
		}
	}

	msg := &models.GenerationMessage{
		TaskID:  taskID,
		TraceID: traceID,
		ModelID: req.ModelID,
		Params:  req.Params,
	}
	if err := s.producer.SendGenerationMessage(ctx, s.topic, msg); err != nil {
		s.manager.FailQuietly(ctx, taskID, "failed to queue task")
		return nil, err
	}

	task, err := s.manager.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	resp := toResponse(task, nil)
	resp.TraceID = traceID
	for _, a := range inputs {
		resp.Inputs = append(resp.Inputs, artifactResponse(a, urlcache.Resolved{}))
	}
	return resp, nil
}

func (s *TaskService) GetTask(ctx context.Context, taskID int64) (*dto.TaskResponse, error) {
	task, err := s.manager.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	artifacts, resolved, err := s.manager.Artifacts(ctx, []int64{taskID})
	if err != nil {
		return nil, err
	}
	return toResponse(task, attach(artifacts, resolved)[taskID]), nil
}

// ListTasks returns one page of tasks. The URLs of every artifact on the page
// are resolved in a single batch.
func (s *TaskService) ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) (*dto.TaskListResponse, error) {
	tasks, total, err := s.manager.ListTasks(ctx, filter, page)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	var byTask map[int64][]resolvedArtifact
	if len(ids) > 0 {
		artifacts, resolved, err := s.manager.Artifacts(ctx, ids)
		if err != nil {
			return nil, err
		}
		byTask = attach(artifacts, resolved)
	}

	resp := &dto.TaskListResponse{
		Tasks:    make([]dto.TaskResponse, 0, len(tasks)),
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, *toResponse(t, byTask[t.ID]))
	}
	return resp, nil
}

// GetTaskStatus answers from the status cache when it can.
func (s *TaskService) GetTaskStatus(ctx context.Context, taskID int64) (*dto.StatusResponse, error) {
	if s.cache != nil {
		status, err := s.cache.Get(ctx, taskID)
		if err == nil {
			return &dto.StatusResponse{ID: taskID, Status: string(status), Cached: true}, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("Status cache read failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}

	task, err := s.manager.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, task.ID, task.Status); err != nil {
			s.logger.Warn("Status cache write failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}
	return &dto.StatusResponse{ID: task.ID, Status: string(task.Status)}, nil
}

type resolvedArtifact struct {
	artifact *models.Artifact
	resolved urlcache.Resolved
}

func attach(artifacts []*models.Artifact, resolved []urlcache.Resolved) map[int64][]resolvedArtifact {
	out := make(map[int64][]resolvedArtifact)
	for i, a := range artifacts {
		out[a.TaskID] = append(out[a.TaskID], resolvedArtifact{artifact: a, resolved: resolved[i]})
	}
	return out
}

func toResponse(task *models.Task, artifacts []resolvedArtifact) *dto.TaskResponse {
	resp := &dto.TaskResponse{
		ID:        task.ID,
		UserID:    task.UserID,
		Source:    task.Source,
		ModelID:   task.ModelID,
		Prompt:    task.Prompt,
		Status:    string(task.Status),
		CreatedAt: task.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: task.UpdatedAt.UTC().Format(timeFormat),
	}
	if task.ErrorMessage != nil {
		resp.ErrorMessage = *task.ErrorMessage
	}
	for _, ra := range artifacts {
		ar := artifactResponse(ra.artifact, ra.resolved)
		if ra.artifact.Role == models.RoleOutput {
			resp.Outputs = append(resp.Outputs, ar)
		} else {
			resp.Inputs = append(resp.Inputs, ar)
		}
	}
	return resp
}

func artifactResponse(a *models.Artifact, r urlcache.Resolved) dto.ArtifactResponse {
	return dto.ArtifactResponse{
		ID:          a.ID,
		FileName:    a.FileName,
		MIMEType:    a.MIMEType,
		AspectRatio: a.AspectRatio,
		StorageKind: string(a.StorageKind),
		URL:         r.URL,
		Stale:       r.Stale,
		Unavailable: r.Unavailable,
	}
}
