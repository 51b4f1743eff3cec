// Package bootstrap builds the long-lived core components shared by the API
// server and the worker. Clients are constructed once here and injected.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mediaGen/core/cache"
	"mediaGen/core/database"
	"mediaGen/core/engine"
	"mediaGen/core/lifecycle"
	"mediaGen/core/repository"
	"mediaGen/core/storage"
	"mediaGen/core/urlcache"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Options struct {
	RepositoryDriver string
	// AllowEphemeral must be set for DriverMemory. The memory repository
	// lives inside one process, so the api and worker binaries each get
	// their own and never see each other's tasks.
	AllowEphemeral bool
	DatabaseURL    string
	RunMigrations  bool
	// RedisAddr may be empty, in which case status caching is disabled.
	RedisAddr            string
	S3                   storage.S3Config
	InlineThreshold      int64
	SignedURLTTL         time.Duration
	SignedURLSkew        time.Duration
	PersistInlineOutputs bool
	// Fetcher copies engine-held outputs into the object store. Only the
	// worker completes tasks, so the api leaves it nil.
	Fetcher engine.Fetcher
}

var ErrEphemeralRepository = errors.New("memory repository is process-local; the api and worker need a shared postgres repository")

// Validate rejects option combinations that cannot serve the two-binary
// deployment.
func (o Options) Validate() error {
	switch o.RepositoryDriver {
	case DriverPostgres, "":
		if o.DatabaseURL == "" {
			return errors.New("postgres repository requires DATABASE_URL")
		}
	case DriverMemory:
		if !o.AllowEphemeral {
			return fmt.Errorf("repository driver %q: %w (set ALLOW_EPHEMERAL_REPOSITORY=true for single-process runs)", o.RepositoryDriver, ErrEphemeralRepository)
		}
	default:
		return fmt.Errorf("unknown repository driver %q", o.RepositoryDriver)
	}
	return nil
}

type Core struct {
	Repo        repository.Repository
	Store       storage.ObjectStore
	Router      *storage.Router
	URLs        *urlcache.Cache
	StatusCache *cache.StatusCache
	Manager     *lifecycle.Manager

	pool  *pgxpool.Pool
	redis *redis.Client
}

func Build(ctx context.Context, opts Options, logger *zap.Logger) (*Core, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Core{}

	repo, err := c.openRepository(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	c.Repo = repo

	store, err := storage.NewS3Store(ctx, opts.S3)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	c.Store = store

	var recorder lifecycle.StatusRecorder
	if opts.RedisAddr != "" {
		client, err := database.ConnectRedis(opts.RedisAddr)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.redis = client
		c.StatusCache = cache.NewStatusCache(client)
		recorder = c.StatusCache
	} else {
		logger.Warn("REDIS_ADDR not set, status cache disabled")
	}

	c.Router = storage.NewRouter(store, opts.InlineThreshold, logger)
	c.URLs = urlcache.New(store, repo, urlcache.Options{TTL: opts.SignedURLTTL, Skew: opts.SignedURLSkew}, logger)
	c.Manager = lifecycle.NewManager(repo, c.Router, c.URLs, recorder,
		lifecycle.Config{PersistInlineOutputs: opts.PersistInlineOutputs, Fetcher: opts.Fetcher}, logger)

	logger.Info("Core components ready",
		zap.String("repository_driver", opts.RepositoryDriver),
		zap.String("bucket", opts.S3.Bucket),
		zap.Int64("inline_threshold", c.Router.Threshold()),
	)
	return c, nil
}

func (c *Core) openRepository(ctx context.Context, opts Options, logger *zap.Logger) (repository.Repository, error) {
	switch opts.RepositoryDriver {
	case DriverMemory:
		logger.Warn("Using ephemeral in-memory repository, data is lost on restart and not shared with other processes")
		return repository.NewMemoryRepo(), nil
	case DriverPostgres, "":
		if opts.RunMigrations {
			if err := repository.ApplyMigrations(ctx, opts.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := database.ConnectPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.pool = pool
		return repository.NewPostgresRepo(pool), nil
	default:
		return nil, fmt.Errorf("unknown repository driver %q", opts.RepositoryDriver)
	}
}

func (c *Core) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}
}
