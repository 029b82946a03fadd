// Package quota implements the external quota oracle contract: map
// (principal, category) -> maximum allowed scale. The core treats
// billing/plan management as an external collaborator; this package is a
// thin, swappable front for it, backed by Redis as a fast per-principal
// cap cache in front of whatever billing system ultimately owns plan
// tiers.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-backend/internal/domain/upscale"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Oracle reports the maximum scale the principal's plan allows for a
// category.
type Oracle interface {
	MaxAllowedScale(ctx context.Context, principalID uuid.UUID, category upscale.Category) (int, error)
}

const defaultMaxScale = 24

type redisOracle struct {
	log         *logger.Logger
	client      *redis.Client
	keyTTL      time.Duration
	fallbackMax int
}

func NewRedisOracle(log *logger.Logger, client *redis.Client) Oracle {
	return &redisOracle{
		log:         log.With("component", "QuotaOracle"),
		client:      client,
		keyTTL:      10 * time.Minute,
		fallbackMax: defaultMaxScale,
	}
}

type planCap struct {
	MaxScale int `json:"maxScale"`
}

// MaxAllowedScale looks up a cached plan cap for the principal, falling
// back to the global default (the full 24x ceiling) on a cache miss or on
// any Redis error, so that a transient cache outage degrades to "no extra
// restriction" rather than blocking submission.
func (o *redisOracle) MaxAllowedScale(ctx context.Context, principalID uuid.UUID, category upscale.Category) (int, error) {
	key := fmt.Sprintf("upscale:quota:%s:%s", principalID.String(), category)
	raw, err := o.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			o.log.Warn("quota cache lookup failed, using default", "error", err)
		}
		return o.fallbackMax, nil
	}
	var parsed planCap
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.MaxScale <= 0 {
		return o.fallbackMax, nil
	}
	return parsed.MaxScale, nil
}
