package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mediaGen/core/engine"
	"mediaGen/core/lifecycle"
	"mediaGen/core/models"
	"mediaGen/core/repository"
	"mediaGen/core/storage"
	"mediaGen/core/storage/storagetest"
	"mediaGen/core/urlcache"
)

type mockEngine struct {
	invokeFunc func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error)
	checkFunc  func(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error)
	fetchFunc  func(ctx context.Context, uri string) ([]byte, error)
	invokes    atomic.Int32
}

func (m *mockEngine) Invoke(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
	m.invokes.Add(1)
	return m.invokeFunc(ctx, modelID, req)
}

func (m *mockEngine) CheckOperation(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error) {
	return m.checkFunc(ctx, handle)
}

func (m *mockEngine) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return m.fetchFunc(ctx, uri)
}

type harness struct {
	repo      *repository.MemoryRepo
	store     *storagetest.FakeStore
	manager   *lifecycle.Manager
	processor *Processor
}

func newHarness(t *testing.T, eng engine.Engine) *harness {
	t.Helper()
	repo := repository.NewMemoryRepo()
	return newHarnessWith(t, eng, repo, repo, lifecycle.Config{})
}

// newHarnessWith lets a test put a wrapper in front of the memory repository
// the processor talks to.
func newHarnessWith(t *testing.T, eng engine.Engine, mem *repository.MemoryRepo, repo repository.Repository, cfg lifecycle.Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storagetest.NewFakeStore()
	router := storage.NewRouter(store, 0, logger)
	urls := urlcache.New(store, repo, urlcache.Options{}, logger)
	manager := lifecycle.NewManager(repo, router, urls, nil, cfg, logger)

	catalog, err := engine.LoadCatalog("")
	require.NoError(t, err)

	return &harness{
		repo:    mem,
		store:   store,
		manager: manager,
		processor: NewProcessor(manager, eng, catalog, Options{
			PollInterval:    time.Millisecond,
			PollMaxAttempts: 3,
		}, logger),
	}
}

func (h *harness) newTask(t *testing.T, modelID string) int64 {
	t.Helper()
	id, err := h.manager.CreateTask(context.Background(), lifecycle.CreateTaskParams{
		UserID: "u1", Source: "web", ModelID: modelID, Prompt: "original",
	})
	require.NoError(t, err)
	return id
}

func (h *harness) status(t *testing.T, id int64) *models.Task {
	t.Helper()
	task, err := h.repo.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestProcess_SyncImage(t *testing.T) {
	var gotReq engine.Request
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			gotReq = req
			return &engine.Result{Outputs: []engine.Output{{InlineData: []byte("png bytes"), MIMEType: "image/png"}}}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "gemini-2.5-flash-image")
	_, err := h.manager.RecordInputArtifacts(context.Background(), id, []lifecycle.InputFile{{MIMEType: "image/png", Data: []byte("ref")}})
	require.NoError(t, err)

	err = h.processor.Process(context.Background(), &models.GenerationMessage{
		TaskID:  id,
		ModelID: "gemini-2.5-flash-image",
		Params:  json.RawMessage(`{"aspect_ratio":"1:1"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, h.status(t, id).Status)
	assert.Equal(t, "original", gotReq.Prompt)
	require.Len(t, gotReq.Inputs, 1)
	assert.Equal(t, []byte("ref"), gotReq.Inputs[0].Data)
	assert.Equal(t, engine.ImageParams{AspectRatio: "1:1"}, gotReq.Params)
}

func TestProcess_UsesTranslatedPrompt(t *testing.T) {
	var prompt string
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			prompt = req.Prompt
			return &engine.Result{Outputs: []engine.Output{{URI: "s3://test-bucket/a.png", MIMEType: "image/png"}}}, nil
		},
	}
	h := newHarness(t, eng)
	translated := "translated"
	id, err := h.manager.CreateTask(context.Background(), lifecycle.CreateTaskParams{
		UserID: "u1", Source: "web", ModelID: "gemini-2.5-flash-image", Prompt: "original", TranslatedPrompt: &translated,
	})
	require.NoError(t, err)

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}))

	assert.Equal(t, "translated", prompt)
}

func TestProcess_EngineErrorFailsTask(t *testing.T) {
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "gemini-2.5-flash-image")

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}))

	task := h.status(t, id)
	assert.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "quota exceeded")
}

func TestProcess_MalformedOutputFailsTask(t *testing.T) {
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Outputs: []engine.Output{{MIMEType: "image/png"}}}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "gemini-2.5-flash-image")

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}))

	task := h.status(t, id)
	assert.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "malformed")
}

func TestProcess_BadParamsFailTask(t *testing.T) {
	eng := &mockEngine{}
	h := newHarness(t, eng)
	id := h.newTask(t, "veo-3.0-generate-001")

	err := h.processor.Process(context.Background(), &models.GenerationMessage{
		TaskID:  id,
		ModelID: "veo-3.0-generate-001",
		Params:  json.RawMessage(`{"fps":24}`),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, h.status(t, id).Status)
	assert.Zero(t, eng.invokes.Load())
}

func TestProcess_LongRunningSuccess(t *testing.T) {
	var checks atomic.Int32
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Operation: &engine.OperationHandle{Name: "operations/1", ModelID: modelID}}, nil
		},
		checkFunc: func(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error) {
			if checks.Add(1) < 2 {
				return &engine.OperationStatus{}, nil
			}
			return &engine.OperationStatus{Done: true, Outputs: []engine.Output{
				{URI: "s3://test-bucket/video.mp4", MIMEType: "video/mp4"},
			}}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "veo-3.0-generate-001")

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "veo-3.0-generate-001"}))

	assert.Equal(t, models.StatusCompleted, h.status(t, id).Status)
	assert.Equal(t, int32(2), checks.Load())
}

func TestProcess_LongRunningErrorResult(t *testing.T) {
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Operation: &engine.OperationHandle{Name: "operations/2", ModelID: modelID}}, nil
		},
		checkFunc: func(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error) {
			return &engine.OperationStatus{Done: true, Err: &engine.OperationError{Code: 400, Message: "unsafe prompt"}}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "veo-3.0-generate-001")

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "veo-3.0-generate-001"}))

	task := h.status(t, id)
	assert.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "unsafe prompt", *task.ErrorMessage)
}

func TestProcess_PollTimeoutLeavesProcessing(t *testing.T) {
	var checks atomic.Int32
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Operation: &engine.OperationHandle{Name: "operations/3", ModelID: modelID}}, nil
		},
		checkFunc: func(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error) {
			checks.Add(1)
			return &engine.OperationStatus{Done: false}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "veo-3.0-generate-001")

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "veo-3.0-generate-001"}))

	task := h.status(t, id)
	assert.Equal(t, models.StatusProcessing, task.Status)
	assert.Nil(t, task.ErrorMessage)
	assert.Equal(t, int32(3), checks.Load())
}

func TestProcess_DuplicateDeliveryIgnored(t *testing.T) {
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Outputs: []engine.Output{{URI: "s3://test-bucket/a.png", MIMEType: "image/png"}}}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "gemini-2.5-flash-image")
	msg := &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}

	require.NoError(t, h.processor.Process(context.Background(), msg))
	require.NoError(t, h.processor.Process(context.Background(), msg))

	assert.Equal(t, int32(1), eng.invokes.Load())
}

func TestProcess_TerminalTaskSkipped(t *testing.T) {
	eng := &mockEngine{}
	h := newHarness(t, eng)
	id := h.newTask(t, "gemini-2.5-flash-image")
	require.NoError(t, h.manager.Fail(context.Background(), id, "cancelled by user"))

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}))

	task := h.status(t, id)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, "cancelled by user", *task.ErrorMessage)
	assert.Zero(t, eng.invokes.Load())
}

func TestProcess_MissingTask(t *testing.T) {
	h := newHarness(t, &mockEngine{})
	err := h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: 77, ModelID: "gemini-2.5-flash-image"})
	assert.NoError(t, err)
}

func TestProcess_ShrinksLargeImageInputs(t *testing.T) {
	var got engine.Input
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			got = req.Inputs[0]
			return &engine.Result{Outputs: []engine.Output{{URI: "s3://test-bucket/a.png", MIMEType: "image/png"}}}, nil
		},
	}
	h := newHarness(t, eng)
	h.processor.opts.MaxInputEdge = 32

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 128, 64))))
	id := h.newTask(t, "gemini-2.5-flash-image")
	_, err := h.manager.RecordInputArtifacts(context.Background(), id, []lifecycle.InputFile{{MIMEType: "image/png", Data: buf.Bytes()}})
	require.NoError(t, err)

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}))

	img, err := png.Decode(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestProcess_ObjectInputSentAsBytes(t *testing.T) {
	var got engine.Input
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			got = req.Inputs[0]
			return &engine.Result{Outputs: []engine.Output{{InlineData: []byte("out"), MIMEType: "image/png"}}}, nil
		},
	}
	h := newHarness(t, eng)
	id := h.newTask(t, "gemini-2.5-flash-image")
	_, err := h.manager.RecordInputArtifacts(context.Background(), id, []lifecycle.InputFile{
		{FileName: "ref.png", MIMEType: "image/png", Data: []byte("stored reference"), ForceObjectStore: true},
	})
	require.NoError(t, err)

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}))

	assert.Equal(t, models.StatusCompleted, h.status(t, id).Status)
	assert.Equal(t, []byte("stored reference"), got.Data)
	assert.Zero(t, h.store.Signs())
}

func TestProcess_VideoDownloadCopiedToStore(t *testing.T) {
	const download = "https://generativelanguage.googleapis.com/v1beta/files/veo-7:download?alt=media"
	var fetched atomic.Int32
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Operation: &engine.OperationHandle{Name: "operations/7", ModelID: modelID}}, nil
		},
		checkFunc: func(ctx context.Context, handle engine.OperationHandle) (*engine.OperationStatus, error) {
			return &engine.OperationStatus{Done: true, Outputs: []engine.Output{{URI: download, MIMEType: "video/mp4"}}}, nil
		},
		fetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
			fetched.Add(1)
			if uri != download {
				return nil, errors.New("unexpected uri " + uri)
			}
			return []byte("mp4 payload"), nil
		},
	}
	repo := repository.NewMemoryRepo()
	h := newHarnessWith(t, eng, repo, repo, lifecycle.Config{Fetcher: eng})
	id := h.newTask(t, "veo-3.0-generate-001")

	require.NoError(t, h.processor.Process(context.Background(), &models.GenerationMessage{TaskID: id, ModelID: "veo-3.0-generate-001"}))

	assert.Equal(t, models.StatusCompleted, h.status(t, id).Status)
	assert.Equal(t, int32(1), fetched.Load())

	role := models.RoleOutput
	arts, err := h.repo.ListArtifacts(context.Background(), []int64{id}, &role)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	require.NotNil(t, arts[0].ObjectURI)
	assert.True(t, strings.HasPrefix(*arts[0].ObjectURI, "s3://test-bucket/"))
	data, ok := h.store.Object(*arts[0].ObjectURI)
	require.True(t, ok)
	assert.Equal(t, []byte("mp4 payload"), data)
}

// flakyRepo fails the first GetTask call as a dropped connection would.
type flakyRepo struct {
	repository.Repository
	failures atomic.Int32
}

func (r *flakyRepo) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	if r.failures.Add(-1) >= 0 {
		return nil, errors.New("conn closed")
	}
	return r.Repository.GetTask(ctx, id)
}

func TestProcess_TransientErrorAllowsRedelivery(t *testing.T) {
	eng := &mockEngine{
		invokeFunc: func(ctx context.Context, modelID string, req engine.Request) (*engine.Result, error) {
			return &engine.Result{Outputs: []engine.Output{{InlineData: []byte("png"), MIMEType: "image/png"}}}, nil
		},
	}
	mem := repository.NewMemoryRepo()
	flaky := &flakyRepo{Repository: mem}
	h := newHarnessWith(t, eng, mem, flaky, lifecycle.Config{})
	id := h.newTask(t, "gemini-2.5-flash-image")
	msg := &models.GenerationMessage{TaskID: id, ModelID: "gemini-2.5-flash-image"}

	flaky.failures.Store(1)
	err := h.processor.Process(context.Background(), msg)
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, models.StatusPending, h.status(t, id).Status)
	assert.Zero(t, eng.invokes.Load())

	require.NoError(t, h.processor.Process(context.Background(), msg))
	assert.Equal(t, models.StatusCompleted, h.status(t, id).Status)
	assert.Equal(t, int32(1), eng.invokes.Load())
}
