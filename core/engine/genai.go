package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GenAIEngine drives Gemini image models through GenerateContent and Veo
// video models through GenerateVideos operations. One instance is shared for
// the process lifetime.
type GenAIEngine struct {
	client  *genai.Client
	catalog *Catalog
	limiter *rate.Limiter
	logger  *zap.Logger
}

var (
	_ Engine  = (*GenAIEngine)(nil)
	_ Fetcher = (*GenAIEngine)(nil)
)

type GenAIConfig struct {
	APIKey string
	// RateInterval spaces out requests to the engine. Zero disables limiting.
	RateInterval time.Duration
}

func NewGenAIEngine(ctx context.Context, cfg GenAIConfig, catalog *Catalog, logger *zap.Logger) (*GenAIEngine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateInterval), 2)
	}
	return &GenAIEngine{client: client, catalog: catalog, limiter: limiter, logger: logger}, nil
}

func (e *GenAIEngine) Invoke(ctx context.Context, modelID string, req Request) (*Result, error) {
	spec, err := e.catalog.Lookup(modelID)
	if err != nil {
		return nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch spec.Family {
	case FamilyImage:
		params, _ := req.Params.(ImageParams)
		return e.generateImages(ctx, modelID, req, params)
	case FamilyVideo:
		params, _ := req.Params.(VideoParams)
		return e.generateVideos(ctx, modelID, req, params)
	}
	return nil, fmt.Errorf("model %s: unsupported family %q", modelID, spec.Family)
}

func (e *GenAIEngine) generateImages(ctx context.Context, modelID string, req Request, params ImageParams) (*Result, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, in := range req.Inputs {
		parts = append(parts, genai.NewPartFromBytes(in.Data, in.MIMEType))
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if params.AspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: params.AspectRatio}
	}
	if params.NumberOfImages > 1 {
		cfg.CandidateCount = int32(params.NumberOfImages)
	}

	resp, err := e.client.Models.GenerateContent(ctx, modelID,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	var outputs []Output
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part == nil:
			case part.InlineData != nil:
				outputs = append(outputs, Output{
					InlineData: part.InlineData.Data,
					MIMEType:   part.InlineData.MIMEType,
					Fields:     map[string]any{"aspect_ratio": params.AspectRatio},
				})
			case part.FileData != nil:
				outputs = append(outputs, Output{
					URI:      part.FileData.FileURI,
					MIMEType: part.FileData.MIMEType,
					Fields:   map[string]any{"aspect_ratio": params.AspectRatio},
				})
			}
		}
	}
	e.logger.Info("Image generation finished",
		zap.String("model_id", modelID),
		zap.Int("outputs", len(outputs)),
	)
	return &Result{Outputs: outputs}, nil
}

func (e *GenAIEngine) generateVideos(ctx context.Context, modelID string, req Request, params VideoParams) (*Result, error) {
	var image *genai.Image
	if len(req.Inputs) > 0 {
		in := req.Inputs[0]
		image = &genai.Image{ImageBytes: in.Data, MIMEType: in.MIMEType}
	}

	cfg := &genai.GenerateVideosConfig{AspectRatio: params.AspectRatio}
	if params.NumberOfVideos > 0 {
		cfg.NumberOfVideos = int32(params.NumberOfVideos)
	}
	if params.DurationSeconds > 0 {
		cfg.DurationSeconds = genai.Ptr(int32(params.DurationSeconds))
	}

	op, err := e.client.Models.GenerateVideos(ctx, modelID, req.Prompt, image, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate videos: %w", err)
	}
	if op == nil || op.Name == "" {
		return nil, errors.New("generate videos: engine returned no operation")
	}

	e.logger.Info("Video operation submitted",
		zap.String("model_id", modelID),
		zap.String("operation", op.Name),
	)
	return &Result{Operation: &OperationHandle{Name: op.Name, ModelID: modelID}}, nil
}

func (e *GenAIEngine) CheckOperation(ctx context.Context, handle OperationHandle) (*OperationStatus, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	op, err := e.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: handle.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", handle.Name, err)
	}
	if !op.Done {
		return &OperationStatus{Done: false}, nil
	}
	if op.Error != nil {
		return &OperationStatus{Done: true, Err: operationError(op.Error)}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return &OperationStatus{Done: true, Err: &OperationError{Message: "operation finished without videos"}}, nil
	}

	outputs := make([]Output, 0, len(op.Response.GeneratedVideos))
	for _, v := range op.Response.GeneratedVideos {
		if v == nil || v.Video == nil {
			outputs = append(outputs, Output{})
			continue
		}
		outputs = append(outputs, Output{
			InlineData: v.Video.VideoBytes,
			URI:        v.Video.URI,
			MIMEType:   v.Video.MIMEType,
		})
	}
	return &OperationStatus{Done: true, Outputs: outputs}, nil
}

// Fetch downloads a generated file by the URI the engine reported for it.
func (e *GenAIEngine) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	data, err := e.client.Files.Download(ctx, genai.NewDownloadURIFromVideo(&genai.Video{URI: uri}), nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", uri, err)
	}
	return data, nil
}

func operationError(raw map[string]any) *OperationError {
	oe := &OperationError{Message: "operation failed"}
	if msg, ok := raw["message"].(string); ok && msg != "" {
		oe.Message = msg
	}
	switch code := raw["code"].(type) {
	case float64:
		oe.Code = int(code)
	case int:
		oe.Code = code
	case int64:
		oe.Code = int(code)
	}
	return oe
}
