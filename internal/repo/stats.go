// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate queries behind the
// reporting surface. They are the expensive computations the stats cache
// exists to protect; nothing on the ingestion hot path calls them.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
)

// BusinessStats is the aggregate snapshot served by the reporting API.
type BusinessStats struct {
	BusinessID     string           `json:"business_id"`
	TotalInquiries int64            `json:"total_inquiries"`
	TotalCustomers int64            `json:"total_customers"`
	ByStatus       map[string]int64 `json:"by_status"`
	BySentiment    map[string]int64 `json:"by_sentiment"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// ComputeBusinessStats aggregates inquiry and customer counts for one
// business. Empty sentiment values (not yet analyzed) are excluded from the
// sentiment breakdown.
func ComputeBusinessStats(ctx context.Context, db *gorm.DB, businessID string) (*BusinessStats, error) {
	stats := &BusinessStats{
		BusinessID:  businessID,
		ByStatus:    map[string]int64{},
		BySentiment: map[string]int64{},
		GeneratedAt: time.Now().UTC(),
	}

	q := db.WithContext(ctx).Model(&domain.Inquiry{}).Where("business_id = ?", businessID)
	if err := q.Count(&stats.TotalInquiries).Error; err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).Model(&domain.Customer{}).
		Where("business_id = ?", businessID).
		Count(&stats.TotalCustomers).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var byStatus []bucket
	if err := db.WithContext(ctx).Model(&domain.Inquiry{}).
		Select("status AS key, COUNT(*) AS count").
		Where("business_id = ?", businessID).
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, b := range byStatus {
		stats.ByStatus[b.Key] = b.Count
	}

	var bySentiment []bucket
	if err := db.WithContext(ctx).Model(&domain.Inquiry{}).
		Select("sentiment AS key, COUNT(*) AS count").
		Where("business_id = ? AND sentiment <> ''", businessID).
		Group("sentiment").
		Scan(&bySentiment).Error; err != nil {
		return nil, err
	}
	for _, b := range bySentiment {
		stats.BySentiment[b.Key] = b.Count
	}

	return stats, nil
}
