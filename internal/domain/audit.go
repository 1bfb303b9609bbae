// Package domain defines the core persistence models for the application.
// This file holds the operational side-tables: webhook audit rows, error
// logs, the replay-guard window, and the aggregation cache.
package domain

import "time"

// WebhookEvent records one inbound webhook delivery verbatim for replay and
// debugging. Writes are best effort: a failed audit insert is logged and never
// blocks ingestion.
type WebhookEvent struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Platform  string    `gorm:"type:varchar(16);not null;index"`
	ChannelID string    `gorm:"type:char(36);not null;index"`
	SourceIP  string    `gorm:"type:varchar(64);not null;default:''"`
	Payload   string    `gorm:"type:text;not null"`
	Outcome   string    `gorm:"type:varchar(32);not null;default:''"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName implements the GORM tabler interface.
func (WebhookEvent) TableName() string { return "webhook_events" }

// ErrorLog captures an ingestion or analysis failure with serialized context
// so operators can inspect and replay it. Dead-lettered analysis jobs always
// produce one of these rows.
type ErrorLog struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Scope     string    `gorm:"type:varchar(64);not null;index"`
	Message   string    `gorm:"type:text;not null"`
	Context   string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName implements the GORM tabler interface.
func (ErrorLog) TableName() string { return "error_logs" }

// ReplayEntry marks one platform event as seen for the replay window. The
// key is "<platform>:<event id>"; rows past ExpiresAt are dead and reaped
// opportunistically. This table is advisory, not a source of truth.
type ReplayEntry struct {
	Key       string    `gorm:"type:varchar(192);primaryKey"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (ReplayEntry) TableName() string { return "replay_entries" }

// CacheEntry is one value in the shared aggregation cache, stored as JSON
// with an absolute expiry.
type CacheEntry struct {
	Key       string    `gorm:"type:varchar(192);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time
}

// TableName implements the GORM tabler interface.
func (CacheEntry) TableName() string { return "cache_entries" }

// CacheLock is the cross-instance mutex behind stampede-safe cache fills.
// Acquisition is an atomic insert on the primary key; expiry bounds how long
// a crashed holder can block other fillers.
type CacheLock struct {
	Key       string    `gorm:"type:varchar(192);primaryKey"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (CacheLock) TableName() string { return "cache_locks" }
