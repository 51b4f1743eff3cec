package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaGen/core/models"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 10 * time.Minute
)

var ErrMiss = errors.New("status not cached")

// StatusCache mirrors task status in Redis so status reads skip Postgres.
// It is a hint: the repository stays authoritative.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func statusKey(taskID int64) string {
	return fmt.Sprintf("%s%d", statusKeyPrefix, taskID)
}

func (sc *StatusCache) Get(ctx context.Context, taskID int64) (models.TaskStatus, error) {
	data, err := sc.client.Get(ctx, statusKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", err
	}
	return models.TaskStatus(data), nil
}

func (sc *StatusCache) Set(ctx context.Context, taskID int64, status models.TaskStatus) error {
	return sc.client.Set(ctx, statusKey(taskID), string(status), statusTTL).Err()
}

func (sc *StatusCache) Delete(ctx context.Context, taskID int64) error {
	return sc.client.Del(ctx, statusKey(taskID)).Err()
}
