package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/outcomes/outcomes/internal/domain/measure"
)

const defaultMeasureTTL = time.Hour

// MeasureCache stores published measure definitions. Definitions are
// immutable once published, so entries only leave on TTL or retirement.
type MeasureCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMeasureCache(client *redis.Client, ttl time.Duration) *MeasureCache {
	if ttl <= 0 {
		ttl = defaultMeasureTTL
	}
	return &MeasureCache{client: client, ttl: ttl}
}

func (c *MeasureCache) key(tenant string, id uuid.UUID) string {
	return fmt.Sprintf("measure:%s:%s", tenant, id)
}

func (c *MeasureCache) GetDefinition(ctx context.Context, tenant string, id uuid.UUID) (*measure.Definition, error) {
	data, err := c.client.Get(ctx, c.key(tenant, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d measure.Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode cached measure %s: %w", id, err)
	}
	return &d, nil
}

func (c *MeasureCache) SetDefinition(ctx context.Context, tenant string, d *measure.Definition) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(tenant, d.ID), data, c.ttl).Err()
}

func (c *MeasureCache) InvalidateDefinition(ctx context.Context, tenant string, id uuid.UUID) error {
	return c.client.Del(ctx, c.key(tenant, id)).Err()
}
