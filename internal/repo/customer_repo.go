// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the customer resolver: an atomic
// find-or-create keyed on (business_id, platform, platform_user_id).
//
// The operation is a single INSERT ... ON CONFLICT DO UPDATE, never a
// read-then-write, so N concurrent first contacts from the same user produce
// exactly one row with N-1 callers taking the update branch instead of a
// unique-constraint failure.
//
// Error semantics:
//   - Missing records surface as gorm.ErrRecordNotFound (aliased ErrNotFound).
//   - Other DB errors are propagated raw.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertCustomer resolves the canonical customer for one end-user identity.
//
// On first contact it inserts a fresh row with FirstContactAt set; on
// conflict it updates only the display name, and only when the inbound
// message actually carried one. FirstContactAt and the inquiry counter are
// deliberately untouched here: increment semantics belong to the inquiry
// transaction (CreateInquiry) so they live in exactly one place.
func UpsertCustomer(ctx context.Context, db *gorm.DB, businessID, platform, platformUserID, displayName string) (*domain.Customer, error) {
	now := time.Now().UTC()
	c := domain.Customer{
		ID:             uuid.NewString(),
		BusinessID:     businessID,
		Platform:       platform,
		PlatformUserID: platformUserID,
		DisplayName:    displayName,
		FirstContactAt: now,
		LastContactAt:  now,
		InquiryCount:   0,
	}

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "business_id"},
			{Name: "platform"},
			{Name: "platform_user_id"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			// Keep the stored name unless the new message provides one.
			"display_name": gorm.Expr(
				"CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE customers.display_name END"),
			"updated_at": now,
		}),
	}).Create(&c).Error
	if err != nil {
		return nil, err
	}

	// The conflict branch leaves c holding the generated (unused) ID; always
	// re-read by the natural key so callers get the canonical row.
	var out domain.Customer
	err = db.WithContext(ctx).
		Where("business_id = ? AND platform = ? AND platform_user_id = ?",
			businessID, platform, platformUserID).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCustomer fetches a customer by primary key, or ErrNotFound.
func GetCustomer(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var c domain.Customer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
