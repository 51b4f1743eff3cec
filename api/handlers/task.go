package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mediaGen/api/dto"
	"mediaGen/api/middleware"
	"mediaGen/core/apperr"
	"mediaGen/core/models"
	"mediaGen/core/repository"
)

const defaultPageSize = 20

type TaskService interface {
	CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error)
	GetTask(ctx context.Context, taskID int64) (*dto.TaskResponse, error)
	ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) (*dto.TaskListResponse, error)
	GetTaskStatus(ctx context.Context, taskID int64) (*dto.StatusResponse, error)
}

type TaskHandler struct {
	service     TaskService
	maxBodySize int64
	logger      *zap.Logger
}

func NewTaskHandler(service TaskService, maxBodySize int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:     service,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

func (h *TaskHandler) Register(r *mux.Router) {
	r.HandleFunc("/v1/tasks", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/v1/tasks", h.List).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks/{id:[0-9]+}/status", h.Status).Methods(http.MethodGet)
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req dto.CreateTaskRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateTask(r.Context(), traceID, &req)
	if err != nil {
		h.handleServiceError(w, "Failed to create task", err, traceID)
		return
	}

	h.logger.Info("Task accepted",
		zap.String("trace_id", traceID),
		zap.Int64("task_id", resp.ID),
		zap.String("model_id", req.ModelID),
		zap.Int("inputs", len(req.Inputs)),
	)

	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, err := taskIDFromPath(r)
	if err != nil {
		h.handleError(w, "Invalid task ID", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		h.handleServiceError(w, "Failed to get task", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	q := r.URL.Query()

	filter := models.TaskFilter{
		UserID: q.Get("user_id"),
		Source: q.Get("source"),
	}
	var err error
	if filter.CreatedAfter, err = parseTime("created_after", q.Get("created_after")); err != nil {
		h.handleServiceError(w, "Invalid query", err, traceID)
		return
	}
	if filter.CreatedBefore, err = parseTime("created_before", q.Get("created_before")); err != nil {
		h.handleServiceError(w, "Invalid query", err, traceID)
		return
	}

	page := models.Page{Number: 1, Size: defaultPageSize}
	if page.Number, err = parseInt("page", q.Get("page"), page.Number); err != nil {
		h.handleServiceError(w, "Invalid query", err, traceID)
		return
	}
	if page.Size, err = parseInt("page_size", q.Get("page_size"), page.Size); err != nil {
		h.handleServiceError(w, "Invalid query", err, traceID)
		return
	}

	resp, err := h.service.ListTasks(r.Context(), filter, page)
	if err != nil {
		h.handleServiceError(w, "Failed to list tasks", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, err := taskIDFromPath(r)
	if err != nil {
		h.handleError(w, "Invalid task ID", err, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		h.handleServiceError(w, "Failed to get task status", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func taskIDFromPath(r *http.Request) (int64, error) {
	raw, ok := mux.Vars(r)["id"]
	if !ok || raw == "" {
		return 0, errors.New("task ID is required")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, apperr.Validation(field, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func parseInt(field, value string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apperr.Validation(field, "must be an integer")
	}
	return n, nil
}

func (h *TaskHandler) handleServiceError(w http.ResponseWriter, message string, err error, traceID string) {
	var (
		verr   *apperr.ValidationError
		ite    *apperr.InvalidTransitionError
		upload *apperr.StorageUploadError
	)
	switch {
	case errors.As(err, &verr):
		h.handleError(w, verr.Error(), err, traceID, http.StatusBadRequest)
	case errors.Is(err, repository.ErrTaskNotFound):
		h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
	case errors.As(err, &ite):
		h.handleError(w, message, err, traceID, http.StatusConflict)
	case errors.As(err, &upload):
		h.handleError(w, message, err, traceID, http.StatusBadGateway)
	default:
		h.handleError(w, message, err, traceID, http.StatusInternalServerError)
	}
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Int("status", status),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
