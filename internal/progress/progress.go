// Package progress caches in-flight sync progress in redis so status polling
// does not hit the primary store.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nelssec/assetsync/internal/models"
)

const (
	jobProgressPrefix = "assetsync:job:progress:"
	progressTTL       = 24 * time.Hour
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Cache struct {
	client *redis.Client
}

func New(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) SetProgress(ctx context.Context, jobID uuid.UUID, progress models.SyncProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	return c.client.Set(ctx, jobProgressPrefix+jobID.String(), data, progressTTL).Err()
}

// GetProgress returns the cached progress, or nil when no entry exists.
func (c *Cache) GetProgress(ctx context.Context, jobID uuid.UUID) (*models.SyncProgress, error) {
	data, err := c.client.Get(ctx, jobProgressPrefix+jobID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress: %w", err)
	}

	var progress models.SyncProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("decoding progress: %w", err)
	}
	return &progress, nil
}

func (c *Cache) ClearProgress(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, jobProgressPrefix+jobID.String()).Err()
}
