// Package lifecycle owns the task state machine
//
//	pending -> processing -> completed | failed
//
// and is the only writer of task rows. Steps of one task run sequentially in
// the caller's goroutine; different tasks are independent.
package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaGen/core/apperr"
	"mediaGen/core/engine"
	"mediaGen/core/media"
	"mediaGen/core/metrics"
	"mediaGen/core/models"
	"mediaGen/core/normalizer"
	"mediaGen/core/repository"
	"mediaGen/core/storage"
	"mediaGen/core/urlcache"
)

const defaultFailureMessage = "unknown error"

// StatusRecorder mirrors status changes into a fast cache. Errors are logged only.
type StatusRecorder interface {
	Set(ctx context.Context, taskID int64, status models.TaskStatus) error
}

type CreateTaskParams struct {
	UserID           string  `json:"user_id" validate:"required"`
	Source           string  `json:"source" validate:"required"`
	ModelID          string  `json:"model_id" validate:"required"`
	Prompt           string  `json:"prompt"`
	TranslatedPrompt *string `json:"translated_prompt"`
}

// InputFile is one caller-supplied input. Exactly one of Data and Base64 is set.
type InputFile struct {
	FileName         string
	MIMEType         string
	Data             []byte
	Base64           string
	AspectRatio      string
	ForceObjectStore bool
}

type Config struct {
	// PersistInlineOutputs uploads every generated output to the object store.
	PersistInlineOutputs bool
	// Fetcher copies engine-held outputs into the object store.
	Fetcher engine.Fetcher
}

type Manager struct {
	repo       repository.Repository
	router     *storage.Router
	normalizer *normalizer.Normalizer
	urls       *urlcache.Cache
	inspector  *media.Inspector
	status     StatusRecorder
	validate   *validator.Validate
	cfg        Config
	logger     *zap.Logger
}

func NewManager(
	repo repository.Repository,
	router *storage.Router,
	urls *urlcache.Cache,
	status StatusRecorder,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &Manager{
		repo:       repo,
		router:     router,
		normalizer: normalizer.New(router, urls, logger),
		urls:       urls,
		inspector:  media.NewInspector(logger),
		status:     status,
		validate:   v,
		cfg:        cfg,
		logger:     logger,
	}
}

func (m *Manager) CreateTask(ctx context.Context, params CreateTaskParams) (int64, error) {
	if err := m.validate.Struct(params); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return 0, apperr.Validation(verrs[0].Field(), "required")
		}
		return 0, apperr.Validation("", err.Error())
	}

	task := &models.Task{
		UserID:           params.UserID,
		Source:           params.Source,
		ModelID:          params.ModelID,
		Prompt:           params.Prompt,
		TranslatedPrompt: params.TranslatedPrompt,
		Status:           models.StatusPending,
	}
	if err := m.repo.CreateTask(ctx, task); err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}

	metrics.TaskTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	m.recordStatus(ctx, task.ID, models.StatusPending)
	m.logger.Info("Task created",
		zap.Int64("task_id", task.ID),
		zap.String("user_id", task.UserID),
		zap.String("source", task.Source),
		zap.String("model_id", task.ModelID),
	)
	return task.ID, nil
}

// RecordInputArtifacts stores the inputs of a task. It uploads large inputs,
// so calling it twice for one task duplicates objects in the store.
func (m *Manager) RecordInputArtifacts(ctx context.Context, taskID int64, files []InputFile) ([]*models.Artifact, error) {
	if len(files) == 0 {
		return nil, apperr.Validation("files", "at least one input is required")
	}
	if _, err := m.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	artifacts := make([]*models.Artifact, len(files))
	payloads := make([]storage.Payload, len(files))
	for i, f := range files {
		data := f.Data
		if data == nil {
			decoded, err := base64.StdEncoding.DecodeString(f.Base64)
			if err != nil {
				return nil, apperr.Validation(fmt.Sprintf("files[%d]", i), "invalid base64 content")
			}
			data = decoded
		}
		if len(data) == 0 {
			return nil, apperr.Validation(fmt.Sprintf("files[%d]", i), "empty content")
		}

		info := m.inspector.Inspect(data, f.MIMEType)
		aspect := f.AspectRatio
		if aspect == "" {
			aspect = info.AspectRatio
		}
		name := f.FileName
		if name == "" {
			name = fmt.Sprintf("input-%d%s", i+1, normalizer.Extension(info.MIMEType))
		}

		payloads[i] = storage.Payload{
			Data:             data,
			MIMEType:         info.MIMEType,
			Destination:      objectPath(taskID, models.RoleInput, info.MIMEType),
			ForceObjectStore: f.ForceObjectStore,
		}
		artifacts[i] = &models.Artifact{
			TaskID:      taskID,
			Role:        models.RoleInput,
			FileName:    name,
			MIMEType:    info.MIMEType,
			AspectRatio: aspect,
		}
	}

	refs, err := m.router.RouteMany(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("task %d: store inputs: %w", taskID, err)
	}
	for i, ref := range refs {
		artifacts[i].SetReference(ref)
	}

	if err := m.repo.CreateArtifacts(ctx, artifacts); err != nil {
		return nil, fmt.Errorf("task %d: persist inputs: %w", taskID, err)
	}
	m.logger.Info("Input artifacts recorded",
		zap.Int64("task_id", taskID),
		zap.Int("count", len(artifacts)),
	)
	return artifacts, nil
}

func (m *Manager) MarkProcessing(ctx context.Context, taskID int64) error {
	return m.transition(ctx, taskID, []models.TaskStatus{models.StatusPending}, models.StatusProcessing, nil, "processing started")
}

// CompleteWithOutputs normalizes and stores the engine outputs, then moves the
// task to COMPLETED. On any error the task is left in PROCESSING and the
// caller decides whether to Fail it.
func (m *Manager) CompleteWithOutputs(ctx context.Context, taskID int64, outputs []engine.Output) ([]*models.Artifact, error) {
	task, err := m.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusProcessing {
		err := &apperr.InvalidTransitionError{TaskID: taskID, From: string(task.Status), To: string(models.StatusCompleted)}
		m.logger.Error("Invalid task transition", zap.Int64("task_id", taskID), zap.Error(err))
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, &apperr.MalformedOutputError{Index: 0, Reason: "engine returned no outputs"}
	}

	res := m.normalizer.Normalize(ctx, outputs, normalizer.Options{
		PersistInlineToStore: m.cfg.PersistInlineOutputs,
		DestinationPrefix:    fmt.Sprintf("tasks/%d/%s", taskID, models.RoleOutput),
		Fetch:                m.cfg.Fetcher,
	})
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("task %d: normalize outputs: %w", taskID, err)
	}

	artifacts := make([]*models.Artifact, 0, len(res.Artifacts))
	for _, n := range res.Artifacts {
		ref, url := n.Reference, n.URL
		if ref.IsInline() {
			routed, err := m.router.Route(ctx, storage.Payload{
				Base64:      ref.Data,
				MIMEType:    ref.MIMEType,
				Destination: path.Join(fmt.Sprintf("tasks/%d/%s", taskID, models.RoleOutput), n.ID+normalizer.Extension(ref.MIMEType)),
			})
			if err != nil {
				return nil, fmt.Errorf("task %d: store output %d: %w", taskID, n.Index, err)
			}
			if !routed.IsInline() {
				if url, err = m.urls.URLFor(ctx, routed); err != nil {
					return nil, fmt.Errorf("task %d: resolve output %d: %w", taskID, n.Index, err)
				}
			}
			ref = routed
		}

		a := &models.Artifact{
			TaskID:      taskID,
			Role:        models.RoleOutput,
			FileName:    n.FileName,
			MIMEType:    n.MIMEType,
			AspectRatio: aspectField(n.Fields),
		}
		a.SetReference(ref)
		if !ref.IsInline() {
			cached := url
			a.AccessURL = &cached
		}
		artifacts = append(artifacts, a)
	}

	if err := m.repo.CompleteTask(ctx, taskID, artifacts); err != nil {
		var ite *apperr.InvalidTransitionError
		if errors.As(err, &ite) {
			m.logger.Error("Invalid task transition", zap.Int64("task_id", taskID), zap.Error(err))
		}
		return nil, fmt.Errorf("task %d: complete: %w", taskID, err)
	}

	metrics.TaskTransitions.WithLabelValues(string(models.StatusCompleted)).Inc()
	m.recordStatus(ctx, taskID, models.StatusCompleted)
	m.logger.Info("Task completed",
		zap.Int64("task_id", taskID),
		zap.Int("outputs", len(artifacts)),
	)
	return artifacts, nil
}

// Fail moves a non-terminal task to FAILED. Failing an already failed task
// overwrites the message.
func (m *Manager) Fail(ctx context.Context, taskID int64, message string) error {
	if strings.TrimSpace(message) == "" {
		message = defaultFailureMessage
	}
	return m.transition(ctx, taskID,
		[]models.TaskStatus{models.StatusPending, models.StatusProcessing, models.StatusFailed},
		models.StatusFailed, &message, "failed")
}

// FailQuietly records a failure and swallows any error doing so. A task left
// dangling in PROCESSING is preferred over crashing the failure path.
func (m *Manager) FailQuietly(ctx context.Context, taskID int64, message string) {
	if err := m.Fail(ctx, taskID, message); err != nil {
		m.logger.Error("Failed to record task failure",
			zap.Int64("task_id", taskID),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

func (m *Manager) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	return m.repo.GetTask(ctx, taskID)
}

func (m *Manager) ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) ([]*models.Task, int, error) {
	if page.Number < 1 {
		return nil, 0, apperr.Validation("page", "must be >= 1")
	}
	if page.Size < 1 || page.Size > models.MaxPageSize {
		return nil, 0, apperr.Validation("page_size", fmt.Sprintf("must be between 1 and %d", models.MaxPageSize))
	}
	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && filter.CreatedAfter.After(*filter.CreatedBefore) {
		return nil, 0, apperr.Validation("created_after", "must not be after created_before")
	}
	return m.repo.ListTasks(ctx, filter, page)
}

// Artifacts loads the artifacts of the given tasks and resolves their access
// URLs in one ResolveMany pass.
func (m *Manager) Artifacts(ctx context.Context, taskIDs []int64) ([]*models.Artifact, []urlcache.Resolved, error) {
	artifacts, err := m.repo.ListArtifacts(ctx, taskIDs, nil)
	if err != nil {
		return nil, nil, err
	}
	return artifacts, m.urls.ResolveMany(ctx, artifacts), nil
}

// LoadInputs returns the INPUT artifacts of a task in engine form. Every
// input is handed over as bytes; object-store inputs are read back first.
func (m *Manager) LoadInputs(ctx context.Context, taskID int64) ([]engine.Input, error) {
	role := models.RoleInput
	artifacts, err := m.repo.ListArtifacts(ctx, []int64{taskID}, &role)
	if err != nil {
		return nil, fmt.Errorf("task %d: list inputs: %w", taskID, err)
	}

	inputs := make([]engine.Input, 0, len(artifacts))
	for _, a := range artifacts {
		ref := a.Reference()
		ok, err := m.router.Exists(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("task %d: check input %d: %w", taskID, a.ID, err)
		}
		if !ok {
			return nil, fmt.Errorf("task %d: input %d: object %s no longer exists", taskID, a.ID, ref.URI)
		}
		data, err := m.router.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("task %d: load input %d: %w", taskID, a.ID, err)
		}
		inputs = append(inputs, engine.Input{FileName: a.FileName, MIMEType: a.MIMEType, Data: data})
	}
	return inputs, nil
}

func (m *Manager) Events(ctx context.Context, taskID int64) ([]models.TaskEvent, error) {
	return m.repo.ListEvents(ctx, taskID)
}

func (m *Manager) transition(ctx context.Context, taskID int64, from []models.TaskStatus, to models.TaskStatus, msg *string, reason string) error {
	prev, err := m.repo.TransitionStatus(ctx, taskID, from, to, msg, reason)
	if err != nil {
		var ite *apperr.InvalidTransitionError
		if errors.As(err, &ite) {
			m.logger.Error("Invalid task transition",
				zap.Int64("task_id", taskID),
				zap.String("from", ite.From),
				zap.String("to", ite.To),
			)
		}
		return err
	}

	metrics.TaskTransitions.WithLabelValues(string(to)).Inc()
	m.recordStatus(ctx, taskID, to)
	fields := []zap.Field{
		zap.Int64("task_id", taskID),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
	}
	if msg != nil {
		fields = append(fields, zap.String("error_message", *msg))
	}
	m.logger.Info("Task status changed", fields...)
	return nil
}

func (m *Manager) recordStatus(ctx context.Context, taskID int64, status models.TaskStatus) {
	if m.status == nil {
		return
	}
	if err := m.status.Set(ctx, taskID, status); err != nil {
		m.logger.Warn("Failed to cache task status",
			zap.Int64("task_id", taskID),
			zap.Error(err),
		)
	}
}

func objectPath(taskID int64, role models.ArtifactRole, mimeType string) string {
	return fmt.Sprintf("tasks/%d/%s/%s%s", taskID, role, uuid.NewString(), normalizer.Extension(mimeType))
}

func aspectField(fields map[string]any) string {
	if v, ok := fields["aspect_ratio"].(string); ok {
		return v
	}
	return ""
}
