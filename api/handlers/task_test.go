package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"

	"mediaGen/api/dto"
	"mediaGen/api/middleware"
	"mediaGen/core/apperr"
	"mediaGen/core/models"
	"mediaGen/core/repository"
)

type mockTaskService struct {
	createTaskFunc func(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error)
	getTaskFunc    func(ctx context.Context, taskID int64) (*dto.TaskResponse, error)
	listTasksFunc  func(ctx context.Context, filter models.TaskFilter, page models.Page) (*dto.TaskListResponse, error)
	getStatusFunc  func(ctx context.Context, taskID int64) (*dto.StatusResponse, error)
}

func (m *mockTaskService) CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
	if m.createTaskFunc != nil {
		return m.createTaskFunc(ctx, traceID, req)
	}
	return &dto.TaskResponse{
		ID:        1,
		TraceID:   traceID,
		UserID:    req.UserID,
		ModelID:   req.ModelID,
		Status:    string(models.StatusPending),
		CreatedAt: time.Now().Format("2006-01-02T15:04:05Z"),
	}, nil
}

func (m *mockTaskService) GetTask(ctx context.Context, taskID int64) (*dto.TaskResponse, error) {
	if m.getTaskFunc != nil {
		return m.getTaskFunc(ctx, taskID)
	}
	return &dto.TaskResponse{ID: taskID, Status: string(models.StatusCompleted)}, nil
}

func (m *mockTaskService) ListTasks(ctx context.Context, filter models.TaskFilter, page models.Page) (*dto.TaskListResponse, error) {
	if m.listTasksFunc != nil {
		return m.listTasksFunc(ctx, filter, page)
	}
	return &dto.TaskListResponse{Page: page.Number, PageSize: page.Size}, nil
}

func (m *mockTaskService) GetTaskStatus(ctx context.Context, taskID int64) (*dto.StatusResponse, error) {
	if m.getStatusFunc != nil {
		return m.getStatusFunc(ctx, taskID)
	}
	return &dto.StatusResponse{ID: taskID, Status: string(models.StatusProcessing)}, nil
}

func serve(t *testing.T, svc TaskService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewTaskHandler(svc, 1<<20, zaptest.NewLogger(t))
	r := mux.NewRouter()
	handler.Register(r)

	traceID := uuid.New().String()
	req.Header.Set("X-Trace-ID", traceID)
	req = req.WithContext(context.WithValue(req.Context(), middleware.TraceIDKey, traceID))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTaskHandler_Create_Success(t *testing.T) {
	var got *dto.CreateTaskRequest
	svc := &mockTaskService{
		createTaskFunc: func(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
			got = req
			return &dto.TaskResponse{ID: 9, TraceID: traceID, Status: string(models.StatusPending)}, nil
		},
	}

	body := `{"user_id":"u1","source":"web","model_id":"gemini-2.5-flash-image","prompt":"cat","params":{"aspect_ratio":"1:1"}}`
	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
	if got == nil || got.UserID != "u1" || string(got.Params) != `{"aspect_ratio":"1:1"}` {
		t.Errorf("Request not passed through: %+v", got)
	}

	var resp dto.TaskResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ID != 9 {
		t.Errorf("Expected task 9, got %d", resp.ID)
	}
}

func TestTaskHandler_Create_UnknownField(t *testing.T) {
	rec := serve(t, &mockTaskService{}, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{"user_id":"u1","colour":"red"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestTaskHandler_Create_ValidationError(t *testing.T) {
	svc := &mockTaskService{
		createTaskFunc: func(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
			return nil, apperr.Validation("user_id", "required")
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{"source":"web"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	var resp dto.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(resp.Error, "user_id") {
		t.Errorf("Expected error to name the field, got %q", resp.Error)
	}
	if resp.TraceID == "" {
		t.Error("Expected trace id in error response")
	}
}

func TestTaskHandler_Create_UploadFailure(t *testing.T) {
	svc := &mockTaskService{
		createTaskFunc: func(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
			return nil, &apperr.StorageUploadError{Destination: "tasks/1/input/x.png"}
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.Code)
	}
}

func TestTaskHandler_Get_Success(t *testing.T) {
	svc := &mockTaskService{
		getTaskFunc: func(ctx context.Context, id int64) (*dto.TaskResponse, error) {
			return &dto.TaskResponse{
				ID:      id,
				Status:  string(models.StatusCompleted),
				Outputs: []dto.ArtifactResponse{{ID: 3, URL: "https://bucket.s3.example.com/out.png"}},
			}, nil
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/v1/tasks/12", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp dto.TaskResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ID != 12 || len(resp.Outputs) != 1 {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestTaskHandler_Get_NotFound(t *testing.T) {
	svc := &mockTaskService{
		getTaskFunc: func(ctx context.Context, id int64) (*dto.TaskResponse, error) {
			return nil, repository.ErrTaskNotFound
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/v1/tasks/404", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestTaskHandler_Get_NonNumericID(t *testing.T) {
	rec := serve(t, &mockTaskService{}, httptest.NewRequest(http.MethodGet, "/v1/tasks/abc", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unmatched route, got %d", rec.Code)
	}
}

func TestTaskHandler_List_ParsesQuery(t *testing.T) {
	var (
		gotFilter models.TaskFilter
		gotPage   models.Page
	)
	svc := &mockTaskService{
		listTasksFunc: func(ctx context.Context, filter models.TaskFilter, page models.Page) (*dto.TaskListResponse, error) {
			gotFilter, gotPage = filter, page
			return &dto.TaskListResponse{Total: 0, Page: page.Number, PageSize: page.Size}, nil
		},
	}

	url := "/v1/tasks?user_id=u1&source=bot&page=3&page_size=50&created_after=2026-01-01T00:00:00Z"
	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, url, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if gotFilter.UserID != "u1" || gotFilter.Source != "bot" {
		t.Errorf("Unexpected filter: %+v", gotFilter)
	}
	if gotFilter.CreatedAfter == nil || gotFilter.CreatedAfter.Year() != 2026 {
		t.Errorf("Expected created_after to be parsed, got %v", gotFilter.CreatedAfter)
	}
	if gotFilter.CreatedBefore != nil {
		t.Errorf("Expected no created_before, got %v", gotFilter.CreatedBefore)
	}
	if gotPage.Number != 3 || gotPage.Size != 50 {
		t.Errorf("Unexpected page: %+v", gotPage)
	}
}

func TestTaskHandler_List_Defaults(t *testing.T) {
	var gotPage models.Page
	svc := &mockTaskService{
		listTasksFunc: func(ctx context.Context, filter models.TaskFilter, page models.Page) (*dto.TaskListResponse, error) {
			gotPage = page
			return &dto.TaskListResponse{}, nil
		},
	}

	serve(t, svc, httptest.NewRequest(http.MethodGet, "/v1/tasks", nil))

	if gotPage.Number != 1 || gotPage.Size != defaultPageSize {
		t.Errorf("Unexpected default page: %+v", gotPage)
	}
}

func TestTaskHandler_List_BadQuery(t *testing.T) {
	cases := []string{
		"/v1/tasks?page=x",
		"/v1/tasks?page_size=ten",
		"/v1/tasks?created_before=yesterday",
	}
	for _, url := range cases {
		rec := serve(t, &mockTaskService{}, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", url, rec.Code)
		}
	}
}

func TestTaskHandler_Status_Success(t *testing.T) {
	svc := &mockTaskService{
		getStatusFunc: func(ctx context.Context, id int64) (*dto.StatusResponse, error) {
			return &dto.StatusResponse{ID: id, Status: string(models.StatusFailed), Cached: true}, nil
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/v1/tasks/5/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp dto.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != string(models.StatusFailed) || !resp.Cached {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestTaskHandler_Status_NotFound(t *testing.T) {
	svc := &mockTaskService{
		getStatusFunc: func(ctx context.Context, id int64) (*dto.StatusResponse, error) {
			return nil, repository.ErrTaskNotFound
		},
	}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/v1/tasks/5/status", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}
