package normalizer

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaGen/core/apperr"
	"mediaGen/core/engine"
	"mediaGen/core/models"
	"mediaGen/core/storage"
)

// URLResolver turns a storage reference into an access URL.
type URLResolver interface {
	URLFor(ctx context.Context, ref models.StorageReference) (string, error)
}

type Options struct {
	// PersistInlineToStore uploads inline outputs before resolving them.
	PersistInlineToStore bool
	// DestinationPrefix is the object path prefix for uploaded outputs.
	DestinationPrefix string
	// Fetch downloads outputs whose URI is outside the object store so they
	// can be copied in. Without it such outputs are rejected.
	Fetch engine.Fetcher
}

type Artifact struct {
	Index     int
	ID        string
	URL       string
	MIMEType  string
	FileName  string
	Reference models.StorageReference
	Fields    map[string]any
}

type Failure struct {
	Index int
	Err   error
}

type Result struct {
	Artifacts []Artifact
	Failed    []Failure
}

// Err summarises the failed records as an *apperr.BatchError, or nil.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	batch := &apperr.BatchError{Op: "normalize outputs", Failed: make(map[int]error, len(r.Failed))}
	for _, f := range r.Failed {
		batch.Failed[f.Index] = f.Err
	}
	for _, a := range r.Artifacts {
		batch.Succeeded = append(batch.Succeeded, a.Index)
	}
	return batch
}

// Normalizer converts heterogeneous engine outputs into artifacts with a
// resolved access URL.
type Normalizer struct {
	router *storage.Router
	urls   URLResolver
	logger *zap.Logger
}

func New(router *storage.Router, urls URLResolver, logger *zap.Logger) *Normalizer {
	return &Normalizer{router: router, urls: urls, logger: logger}
}

// Normalize processes every record; a bad record is reported in
// Result.Failed and does not stop the rest of the batch.
func (n *Normalizer) Normalize(ctx context.Context, outputs []engine.Output, opts Options) *Result {
	res := &Result{}
	for i, out := range outputs {
		a, err := n.normalizeOne(ctx, i, out, opts)
		if err != nil {
			n.logger.Warn("Output rejected",
				zap.Int("index", i),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, Failure{Index: i, Err: err})
			continue
		}
		res.Artifacts = append(res.Artifacts, a)
	}
	return res
}

func (n *Normalizer) normalizeOne(ctx context.Context, index int, out engine.Output, opts Options) (Artifact, error) {
	a := Artifact{
		Index:  index,
		ID:     uuid.NewString(),
		Fields: out.Fields,
	}

	switch {
	case out.URI != "" && n.router.Owns(out.URI):
		if out.MIMEType == "" {
			return Artifact{}, &apperr.MalformedOutputError{Index: index, Reason: "object reference without mime type"}
		}
		a.Reference = models.ObjectReference(out.MIMEType, out.URI)

	case out.URI != "":
		ref, err := n.copyIn(ctx, a.ID, out, opts)
		if err != nil {
			return Artifact{}, fmt.Errorf("copy output %d: %w", index, err)
		}
		a.Reference = ref

	case len(out.InlineData) > 0:
		mimeType := out.MIMEType
		if mimeType == "" {
			mimeType = mimetype.Detect(out.InlineData).String()
		}
		if opts.PersistInlineToStore {
			ref, err := n.router.Route(ctx, storage.Payload{
				Data:             out.InlineData,
				MIMEType:         mimeType,
				Destination:      path.Join(opts.DestinationPrefix, a.ID+Extension(mimeType)),
				ForceObjectStore: true,
			})
			if err != nil {
				return Artifact{}, err
			}
			a.Reference = ref
		} else {
			a.Reference = models.InlineReference(mimeType, base64.StdEncoding.EncodeToString(out.InlineData))
		}

	default:
		return Artifact{}, &apperr.MalformedOutputError{Index: index, Reason: "neither inline payload nor object uri"}
	}

	a.MIMEType = a.Reference.MIMEType
	a.FileName = fileName(index, a.MIMEType, out.Fields)

	url, err := n.urls.URLFor(ctx, a.Reference)
	if err != nil {
		return Artifact{}, fmt.Errorf("resolve output %d: %w", index, err)
	}
	a.URL = url
	return a, nil
}

// copyIn downloads an engine-held output and stores it as an object, so
// every artifact ends up behind a URL the store can sign.
func (n *Normalizer) copyIn(ctx context.Context, id string, out engine.Output, opts Options) (models.StorageReference, error) {
	if opts.Fetch == nil {
		return models.StorageReference{}, fmt.Errorf("uri %q is outside the object store", out.URI)
	}
	data, err := opts.Fetch.Fetch(ctx, out.URI)
	if err != nil {
		return models.StorageReference{}, err
	}
	if len(data) == 0 {
		return models.StorageReference{}, fmt.Errorf("uri %q returned no data", out.URI)
	}
	mimeType := out.MIMEType
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return n.router.Route(ctx, storage.Payload{
		Data:             data,
		MIMEType:         mimeType,
		Destination:      path.Join(opts.DestinationPrefix, id+Extension(mimeType)),
		ForceObjectStore: true,
	})
}

func fileName(index int, mimeType string, fields map[string]any) string {
	if name, ok := fields["file_name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("output-%d%s", index+1, Extension(mimeType))
}

// Extension returns the canonical file extension for mimeType, or "".
func Extension(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ""
}
