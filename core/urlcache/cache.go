package urlcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediaGen/core/metrics"
	"mediaGen/core/models"
	"mediaGen/core/storage"
)

// ErrObjectMissing is reported when a URL is due for regeneration but the
// object it points at is gone. Presigning would still succeed, so the store
// is asked first.
var ErrObjectMissing = errors.New("object no longer exists")

// URLStore persists refreshed URLs. One call is one database write.
type URLStore interface {
	UpdateAccessURLs(ctx context.Context, urls map[int64]string) (int64, error)
}

// Resolved is the outcome for one artifact of ResolveMany.
type Resolved struct {
	ArtifactID int64
	URL        string
	Refreshed  bool
	// Stale is set when regeneration failed and the previous URL is served.
	Stale bool
	// Unavailable is set when there is no URL to serve at all.
	Unavailable bool
	Err         error
}

type Options struct {
	TTL  time.Duration
	Skew time.Duration
	Now  func() time.Time
}

// Cache hands out access URLs for artifacts and keeps the copy cached on the
// artifact row fresh.
type Cache struct {
	store  storage.ObjectStore
	urls   URLStore
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func New(store storage.ObjectStore, urls URLStore, opts Options, logger *zap.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Skew <= 0 {
		opts.Skew = DefaultSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:  store,
		urls:   urls,
		ttl:    opts.TTL,
		skew:   opts.Skew,
		now:    opts.Now,
		logger: logger,
	}
}

func DataURL(mimeType, base64Data string) string {
	return "data:" + mimeType + ";base64," + base64Data
}

// URLFor produces an access URL for ref without touching any cached copy.
func (c *Cache) URLFor(ctx context.Context, ref models.StorageReference) (string, error) {
	switch ref.Kind {
	case models.StorageInline:
		return DataURL(ref.MIMEType, ref.Data), nil
	case models.StorageObject:
		if ref.URI == "" {
			return "", errors.New("object reference without uri")
		}
		return c.store.AccessURL(ctx, ref.URI, c.ttl)
	default:
		return "", fmt.Errorf("unknown storage kind %q", ref.Kind)
	}
}

// refresh signs a new URL for an object artifact after checking the object
// is still there.
func (c *Cache) refresh(ctx context.Context, a *models.Artifact) (string, error) {
	ref := a.Reference()
	ok, err := c.store.Exists(ctx, ref.URI)
	if err != nil {
		return "", fmt.Errorf("check %s: %w", ref.URI, err)
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", ref.URI, ErrObjectMissing)
	}
	return c.URLFor(ctx, ref)
}

// fresh returns the cached URL when it can still be served.
func (c *Cache) fresh(a *models.Artifact) (string, bool) {
	cached := a.CachedURL()
	if cached == "" || IsExpired(cached, c.now(), c.skew) {
		return "", false
	}
	return cached, true
}

// Resolve returns a usable URL for a, regenerating and persisting it when the
// cached copy is missing or expired.
func (c *Cache) Resolve(ctx context.Context, a *models.Artifact) (string, error) {
	if a.StorageKind == models.StorageInline {
		return c.URLFor(ctx, a.Reference())
	}
	if u, ok := c.fresh(a); ok {
		return u, nil
	}

	u, err := c.refresh(ctx, a)
	if err != nil {
		metrics.URLRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("refresh url for artifact %d: %w", a.ID, err)
	}
	metrics.URLRefreshes.WithLabelValues("ok").Inc()
	a.AccessURL = &u

	if _, err := c.urls.UpdateAccessURLs(ctx, map[int64]string{a.ID: u}); err != nil {
		c.logger.Warn("Failed to persist refreshed url",
			zap.Int64("artifact_id", a.ID),
			zap.Error(err),
		)
	}
	return u, nil
}

// ResolveMany resolves a page of artifacts. Stale object-store URLs are
// regenerated concurrently and written back in a single batched update. A
// failure on one artifact only affects that artifact's entry. An artifact
// whose object is gone is Unavailable even if an old URL is cached.
func (c *Cache) ResolveMany(ctx context.Context, artifacts []*models.Artifact) []Resolved {
	out := make([]Resolved, len(artifacts))
	stale := make(map[int64][]int)
	var order []int64

	for i, a := range artifacts {
		out[i].ArtifactID = a.ID
		if a.StorageKind == models.StorageInline {
			out[i].URL = DataURL(a.MIMEType, a.Reference().Data)
			continue
		}
		if u, ok := c.fresh(a); ok {
			out[i].URL = u
			continue
		}
		if _, seen := stale[a.ID]; !seen {
			order = append(order, a.ID)
		}
		stale[a.ID] = append(stale[a.ID], i)
	}
	if len(order) == 0 {
		return out
	}

	var (
		mu        sync.Mutex
		refreshed = make(map[int64]string, len(order))
		failed    = make(map[int64]error)
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range order {
		a := artifacts[stale[id][0]]
		eg.Go(func() error {
			u, err := c.refresh(egCtx, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[id] = err
				return nil
			}
			refreshed[id] = u
			return nil
		})
	}
	_ = eg.Wait()

	metrics.URLRefreshes.WithLabelValues("ok").Add(float64(len(refreshed)))
	metrics.URLRefreshes.WithLabelValues("error").Add(float64(len(failed)))

	if len(refreshed) > 0 {
		if _, err := c.urls.UpdateAccessURLs(ctx, refreshed); err != nil {
			c.logger.Warn("Failed to persist refreshed urls",
				zap.Int("count", len(refreshed)),
				zap.Error(err),
			)
		}
	}

	for _, id := range order {
		for _, i := range stale[id] {
			a := artifacts[i]
			if u, ok := refreshed[id]; ok {
				a.AccessURL = &u
				out[i].URL = u
				out[i].Refreshed = true
				continue
			}
			err := failed[id]
			out[i].Err = err
			if prev := a.CachedURL(); prev != "" && !errors.Is(err, ErrObjectMissing) {
				out[i].URL = prev
				out[i].Stale = true
			} else {
				out[i].Unavailable = true
			}
		}
		if err, ok := failed[id]; ok {
			c.logger.Warn("Failed to refresh artifact url",
				zap.Int64("artifact_id", id),
				zap.Error(err),
			)
		}
	}
	return out
}
