package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"mediaGen/core/apperr"
	"mediaGen/core/engine"
	"mediaGen/core/lifecycle"
	"mediaGen/core/media"
	"mediaGen/core/metrics"
	"mediaGen/core/models"
	"mediaGen/core/poller"
	"mediaGen/core/repository"
)

type Options struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	// DedupWindow is how long a task id is remembered to drop redelivered messages.
	DedupWindow time.Duration
	// MaxInputEdge caps the longer edge of image inputs sent to the engine.
	// Zero disables resizing.
	MaxInputEdge int
}

// Processor runs one generation task end to end: processing, engine call,
// output normalisation, terminal status.
type Processor struct {
	manager *lifecycle.Manager
	engine  engine.Engine
	poller  *poller.Poller
	catalog *engine.Catalog
	media   *media.Inspector
	seen    *gocache.Cache
	opts    Options
	logger  *zap.Logger
}

func NewProcessor(manager *lifecycle.Manager, eng engine.Engine, catalog *engine.Catalog, opts Options, logger *zap.Logger) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = poller.DefaultInterval
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = poller.DefaultMaxAttempts
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 10 * time.Minute
	}
	return &Processor{
		manager: manager,
		engine:  eng,
		poller:  poller.New(eng, logger),
		catalog: catalog,
		media:   media.NewInspector(logger),
		seen:    gocache.New(opts.DedupWindow, 2*opts.DedupWindow),
		opts:    opts,
		logger:  logger,
	}
}

// ErrTransient reports that a message could not be handled because of
// infrastructure trouble before any task state changed. The message should
// be delivered again.
var ErrTransient = errors.New("transient failure, message not handled")

// Process handles one delivery. Only ErrTransient is returned; every other
// outcome is recorded on the task itself.
func (p *Processor) Process(ctx context.Context, msg *models.GenerationMessage) error {
	result := p.process(ctx, msg)
	metrics.MessagesProcessed.WithLabelValues(result).Inc()
	if result == "error" {
		p.seen.Delete(strconv.FormatInt(msg.TaskID, 10))
		return fmt.Errorf("task %d: %w", msg.TaskID, ErrTransient)
	}
	return nil
}

func (p *Processor) process(ctx context.Context, msg *models.GenerationMessage) string {
	logger := p.logger.With(
		zap.Int64("task_id", msg.TaskID),
		zap.String("trace_id", msg.TraceID),
		zap.String("model_id", msg.ModelID),
	)

	if err := p.seen.Add(strconv.FormatInt(msg.TaskID, 10), struct{}{}, gocache.DefaultExpiration); err != nil {
		logger.Info("Duplicate delivery ignored")
		return "duplicate"
	}

	task, err := p.manager.GetTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			logger.Warn("Task not found, dropping message")
			return "missing"
		}
		logger.Error("Failed to load task", zap.Error(err))
		return "error"
	}

	if err := p.manager.MarkProcessing(ctx, task.ID); err != nil {
		var ite *apperr.InvalidTransitionError
		if errors.As(err, &ite) {
			return "skipped"
		}
		logger.Error("Failed to mark task processing", zap.Error(err))
		return "error"
	}

	spec, err := p.catalog.Lookup(msg.ModelID)
	if err != nil {
		return p.fail(ctx, logger, task.ID, err)
	}
	params, err := engine.DecodeParams(spec.Family, msg.Params)
	if err != nil {
		return p.fail(ctx, logger, task.ID, err)
	}
	inputs, err := p.manager.LoadInputs(ctx, task.ID)
	if err != nil {
		return p.fail(ctx, logger, task.ID, err)
	}
	for i := range inputs {
		data, resized, err := p.media.Fit(inputs[i].Data, inputs[i].MIMEType, p.opts.MaxInputEdge)
		if err != nil {
			return p.fail(ctx, logger, task.ID, err)
		}
		if resized {
			inputs[i].Data = data
		}
	}

	req := engine.Request{Prompt: promptFor(task), Inputs: inputs, Params: params}
	logger.Info("Starting generation",
		zap.Int("inputs", len(inputs)),
		zap.Bool("long_running", spec.LongRunning),
	)

	var outputs []engine.Output
	if spec.LongRunning {
		handle, err := p.poller.Submit(ctx, msg.ModelID, req)
		if err != nil {
			return p.fail(ctx, logger, task.ID, err)
		}
		status, err := p.poller.AwaitCompletion(ctx, *handle, p.opts.PollInterval, p.opts.PollMaxAttempts)
		if err != nil {
			// The remote operation may still finish; the task stays PROCESSING
			// for manual reconciliation.
			logger.Warn("Operation not observed to completion, task left processing",
				zap.String("operation", handle.Name),
				zap.Error(err),
			)
			return "timeout"
		}
		if status.Err != nil {
			return p.fail(ctx, logger, task.ID, status.Err)
		}
		outputs = status.Outputs
	} else {
		res, err := p.engine.Invoke(ctx, msg.ModelID, req)
		if err != nil {
			return p.fail(ctx, logger, task.ID, err)
		}
		outputs = res.Outputs
	}

	artifacts, err := p.manager.CompleteWithOutputs(ctx, task.ID, outputs)
	if err != nil {
		return p.fail(ctx, logger, task.ID, err)
	}

	logger.Info("Generation completed", zap.Int("outputs", len(artifacts)))
	return "completed"
}

func (p *Processor) fail(ctx context.Context, logger *zap.Logger, taskID int64, cause error) string {
	logger.Error("Generation failed", zap.Error(cause))
	var opErr *engine.OperationError
	msg := cause.Error()
	if errors.As(cause, &opErr) {
		msg = opErr.Message
	}
	p.manager.FailQuietly(ctx, taskID, msg)
	return "failed"
}

func promptFor(task *models.Task) string {
	if task.TranslatedPrompt != nil && *task.TranslatedPrompt != "" {
		return *task.TranslatedPrompt
	}
	return task.Prompt
}
