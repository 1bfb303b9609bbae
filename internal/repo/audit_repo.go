// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file writes the operational side-tables: webhook
// audit rows and error logs. Both are best-effort from the caller's point of
// view; the service layer logs failures and moves on.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
)

// CreateWebhookEvent records one inbound delivery verbatim.
func CreateWebhookEvent(ctx context.Context, db *gorm.DB, platform, channelID, sourceIP, payload, outcome string) error {
	ev := &domain.WebhookEvent{
		ID:        uuid.NewString(),
		Platform:  platform,
		ChannelID: channelID,
		SourceIP:  sourceIP,
		Payload:   payload,
		Outcome:   outcome,
	}
	return db.WithContext(ctx).Create(ev).Error
}

// CreateErrorLog records a failure with serialized context for operators.
func CreateErrorLog(ctx context.Context, db *gorm.DB, scope, message, context_ string) error {
	row := &domain.ErrorLog{
		ID:      uuid.NewString(),
		Scope:   scope,
		Message: message,
		Context: context_,
	}
	return db.WithContext(ctx).Create(row).Error
}
