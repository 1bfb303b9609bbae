// Package services – StatsService
//
// This file serves the reporting aggregates through the stampede-safe
// cache. Keys are prefixed per business so a single analysis write can
// invalidate everything derived from that business's inquiries.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-inquiry-backend/internal/cache"
	"github.com/tbourn/go-inquiry-backend/internal/domain"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
)

// StatsCacheKeyPrefix returns the invalidation prefix for one business.
func StatsCacheKeyPrefix(businessID string) string {
	return "stats:biz:" + businessID
}

// StatsService answers reporting queries through the cache.
type StatsService struct {
	DB    *gorm.DB
	Cache *cache.Store
	TTL   time.Duration
}

// NewStatsService constructs a StatsService with the given entry TTL.
func NewStatsService(db *gorm.DB, c *cache.Store, ttl time.Duration) *StatsService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StatsService{DB: db, Cache: c, TTL: ttl}
}

// BusinessStats returns the aggregate snapshot for one business, computing
// it at most once per expiry across all concurrent callers.
func (s *StatsService) BusinessStats(ctx context.Context, businessID string) (*repo.BusinessStats, error) {
	tr := otel.Tracer("services/StatsService")
	ctx, span := tr.Start(ctx, "BusinessStats",
		trace.WithAttributes(attribute.String("business.id", businessID)),
	)
	defer span.End()

	var biz domain.Business
	if err := s.DB.WithContext(ctx).Select("id").Where("id = ?", businessID).First(&biz).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}

	key := StatsCacheKeyPrefix(businessID)
	raw, err := s.Cache.GetOrSet(ctx, key, s.TTL, func(ctx context.Context) (any, error) {
		return repo.ComputeBusinessStats(ctx, s.DB, businessID)
	})
	if err != nil {
		return nil, err
	}

	var stats repo.BusinessStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
