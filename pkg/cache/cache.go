package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"review-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// generationGrace keeps a generation counter alive past every entry written under it.
const generationGrace = time.Hour

// RatingCache caches partner rating aggregates per tenant.
//
// Entries are versioned by a per-(tenant, partner) generation counter. Readers
// take the generation before aggregating and write back under it; an
// invalidation bumps the counter, so a write computed before it lands under a
// key no reader will look at again.
//
// A nil *RatingCache is valid and caches nothing.
type RatingCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRatingCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RatingCache {
	return &RatingCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// RatingKey formats the cache key of a partner rating inside a tenant at a generation.
// The tenant is quoted so no (tenant, partner) pair can collide with another.
func RatingKey(tenantKey, partnerID string, gen int64) string {
	return fmt.Sprintf("rating:v1:%q:%d:%s", tenantKey, gen, partnerID)
}

// GenerationKey is the counter bumped each time the partner's rating changes.
func GenerationKey(tenantKey, partnerID string) string {
	return fmt.Sprintf("rating:v1:gen:%q:%s", tenantKey, partnerID)
}

func (c *RatingCache) generationTTL() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	return c.ttl + generationGrace
}

// ===============================
// Single
// ===============================

// GetRating returns the cached rating, or nil on a miss, together with the
// generation a freshly computed rating must be stored under.
func (c *RatingCache) GetRating(ctx context.Context, tenantKey, partnerID string) (*domain.PartnerRating, int64, error) {
	if c == nil {
		return nil, 0, nil
	}

	gen, err := c.client.Get(ctx, GenerationKey(tenantKey, partnerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("cache generation: %w", err)
	}

	data, err := c.client.Get(ctx, RatingKey(tenantKey, partnerID, gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, nil
		}
		return nil, 0, fmt.Errorf("cache get: %w", err)
	}

	var rating domain.PartnerRating
	if err := json.Unmarshal(data, &rating); err != nil {
		return nil, 0, fmt.Errorf("cache decode: %w", err)
	}
	return &rating, gen, nil
}

// SetRating stores rating under gen, the generation GetRating returned before it was computed.
func (c *RatingCache) SetRating(ctx context.Context, tenantKey string, rating domain.PartnerRating, gen int64) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(rating)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, RatingKey(tenantKey, rating.PartnerID, gen), data, c.ttl).Err()
}

// InvalidateRating moves the partner to a new generation, orphaning every entry
// written under an older one.
func (c *RatingCache) InvalidateRating(ctx context.Context, tenantKey, partnerID string) error {
	if c == nil {
		return nil
	}

	key := GenerationKey(tenantKey, partnerID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	if ttl := c.generationTTL(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// ===============================
// Batch Operations
// ===============================

// GetRatingsBatch returns the cached subset of partnerIDs, plus the generation
// of every requested id.
func (c *RatingCache) GetRatingsBatch(ctx context.Context, tenantKey string, partnerIDs []string) (map[string]domain.PartnerRating, map[string]int64, error) {
	if c == nil || len(partnerIDs) == 0 {
		return map[string]domain.PartnerRating{}, map[string]int64{}, nil
	}

	genKeys := make([]string, len(partnerIDs))
	for i, id := range partnerIDs {
		genKeys[i] = GenerationKey(tenantKey, id)
	}
	vals, err := c.client.MGet(ctx, genKeys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("cache generations: %w", err)
	}

	gens := make(map[string]int64, len(partnerIDs))
	for i, id := range partnerIDs {
		gens[id] = 0
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		gen, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("cache generation %q: %w", s, err)
		}
		gens[id] = gen
	}

	pipe := c.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(partnerIDs))
	for _, id := range partnerIDs {
		cmds[id] = pipe.Get(ctx, RatingKey(tenantKey, id, gens[id]))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("pipeline exec: %w", err)
	}

	results := make(map[string]domain.PartnerRating, len(partnerIDs))
	for id, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var rating domain.PartnerRating
		if err := json.Unmarshal(data, &rating); err != nil {
			c.logger.Warn("dropping undecodable cached rating", zap.String("partner_id", id), zap.Error(err))
			continue
		}
		results[id] = rating
	}
	return results, gens, nil
}

// SetRatingsBatch stores each rating under the generation GetRatingsBatch returned for it.
func (c *RatingCache) SetRatingsBatch(ctx context.Context, tenantKey string, ratings []domain.PartnerRating, gens map[string]int64) error {
	if c == nil || len(ratings) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, rating := range ratings {
		data, err := json.Marshal(rating)
		if err != nil {
			return err
		}
		pipe.Set(ctx, RatingKey(tenantKey, rating.PartnerID, gens[rating.PartnerID]), data, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
