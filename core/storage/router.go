package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediaGen/core/apperr"
	"mediaGen/core/metrics"
	"mediaGen/core/models"
)

const DefaultInlineThreshold int64 = 10 << 20

// Payload is one artifact body handed to the Router. Exactly one of Data and
// Base64 carries the content.
type Payload struct {
	Data     []byte
	Base64   string
	MIMEType string
	// Size is the decoded size in bytes. Zero means derive it from the content.
	Size             int64
	Destination      string
	ForceObjectStore bool
}

func (p Payload) size() int64 {
	if p.Size > 0 {
		return p.Size
	}
	if p.Data != nil {
		return int64(len(p.Data))
	}
	// DecodedLen counts padding as data; take the '=' back off.
	pad := len(p.Base64) - len(strings.TrimRight(p.Base64, "="))
	if pad > 2 {
		pad = 2
	}
	return int64(base64.StdEncoding.DecodedLen(len(p.Base64)) - pad)
}

func (p Payload) bytes() ([]byte, error) {
	if p.Data != nil {
		return p.Data, nil
	}
	data, err := base64.StdEncoding.DecodeString(p.Base64)
	if err != nil {
		return nil, apperr.Validation("payload", "invalid base64 content")
	}
	return data, nil
}

func (p Payload) encoded() string {
	if p.Data != nil {
		return base64.StdEncoding.EncodeToString(p.Data)
	}
	return p.Base64
}

// Router decides per artifact between an inline reference and an object-store
// upload.
type Router struct {
	store     ObjectStore
	threshold int64
	logger    *zap.Logger
}

func NewRouter(store ObjectStore, threshold int64, logger *zap.Logger) *Router {
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	return &Router{store: store, threshold: threshold, logger: logger}
}

func (r *Router) Threshold() int64 {
	return r.threshold
}

// Exists reports whether the payload behind ref is still retrievable.
// Inline references always are.
func (r *Router) Exists(ctx context.Context, ref models.StorageReference) (bool, error) {
	if ref.IsInline() {
		return true, nil
	}
	return r.store.Exists(ctx, ref.URI)
}

// Owns reports whether uri is an object in the configured store. Anything
// else an engine hands back has to be copied in before it can be served.
func (r *Router) Owns(uri string) bool {
	return r.store.Owns(uri)
}

// Load returns the bytes behind ref.
func (r *Router) Load(ctx context.Context, ref models.StorageReference) ([]byte, error) {
	if ref.IsInline() {
		data, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline payload: %w", err)
		}
		return data, nil
	}
	return r.store.Get(ctx, ref.URI)
}

// Route uploads payloads at or above the threshold (or when forced) and
// returns everything else inline. Upload failures are returned as
// *apperr.StorageUploadError and never fall back to inline.
func (r *Router) Route(ctx context.Context, p Payload) (models.StorageReference, error) {
	if p.MIMEType == "" {
		return models.StorageReference{}, apperr.Validation("mime_type", "required")
	}
	size := p.size()

	if size < r.threshold && !p.ForceObjectStore {
		metrics.StorageRoutes.WithLabelValues(string(models.StorageInline)).Inc()
		return models.InlineReference(p.MIMEType, p.encoded()), nil
	}

	if p.Destination == "" {
		return models.StorageReference{}, apperr.Validation("destination", "required for object storage")
	}
	data, err := p.bytes()
	if err != nil {
		return models.StorageReference{}, err
	}

	uri, err := r.store.Put(ctx, p.Destination, data, p.MIMEType)
	if err != nil {
		metrics.StorageRoutes.WithLabelValues("error").Inc()
		r.logger.Error("Object upload failed",
			zap.String("destination", p.Destination),
			zap.Int64("size", size),
			zap.Error(err),
		)
		return models.StorageReference{}, &apperr.StorageUploadError{Destination: p.Destination, Err: err}
	}

	metrics.StorageRoutes.WithLabelValues(string(models.StorageObject)).Inc()
	r.logger.Debug("Artifact uploaded",
		zap.String("uri", uri),
		zap.Int64("size", size),
		zap.Bool("forced", p.ForceObjectStore),
	)
	return models.ObjectReference(p.MIMEType, uri), nil
}

// RouteMany routes every payload independently. When any item fails the
// returned slice still holds the successful references and the error is an
// *apperr.BatchError naming the succeeded indices.
func (r *Router) RouteMany(ctx context.Context, payloads []Payload) ([]models.StorageReference, error) {
	refs := make([]models.StorageReference, len(payloads))
	errs := make([]error, len(payloads))

	var eg errgroup.Group
	for i := range payloads {
		eg.Go(func() error {
			refs[i], errs[i] = r.Route(ctx, payloads[i])
			return nil
		})
	}
	_ = eg.Wait()

	batch := &apperr.BatchError{Op: "route artifacts", Failed: map[int]error{}}
	for i, err := range errs {
		if err != nil {
			batch.Failed[i] = fmt.Errorf("payload %d: %w", i, err)
			continue
		}
		batch.Succeeded = append(batch.Succeeded, i)
	}
	if len(batch.Failed) > 0 {
		return refs, batch
	}
	return refs, nil
}
