// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file owns inquiry creation and the analysis
// write-back.
//
// CreateInquiry is the pipeline's single durability boundary: the inquiry
// row and the customer's contact counter commit in one transaction, so a
// crash can never leave the counter incremented without the inquiry (or the
// reverse).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
)

// Validation errors for inquiry creation. These indicate a configuration or
// request defect, never a transient fault, and must not be retried.
var (
	// ErrChannelNotFound indicates the webhook URL referenced an unknown or
	// deleted channel.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrBusinessMismatch indicates the resolved customer does not belong to
	// the channel's business.
	ErrBusinessMismatch = errors.New("customer business does not match channel business")

	// ErrEmptyMessage indicates a blank message text reached the store.
	ErrEmptyMessage = errors.New("message text is empty")
)

// CreateInquiryInput carries the fields needed to persist one inquiry.
type CreateInquiryInput struct {
	ChannelID         string
	CustomerID        string
	PlatformMessageID string
	MessageText       string
	ReceivedAt        time.Time
}

// GetChannel fetches a channel by primary key, or ErrChannelNotFound.
func GetChannel(ctx context.Context, db *gorm.DB, id string) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.WithContext(ctx).Where("id = ?", id).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateInquiry inserts the inquiry with status "new" and bumps the owning
// customer's last_contact_at and inquiry_count, all inside one transaction.
//
// Preconditions (checked inside the transaction, returning the sentinel
// errors above): the channel must exist and the customer must belong to the
// channel's business.
func CreateInquiry(ctx context.Context, db *gorm.DB, in CreateInquiryInput) (*domain.Inquiry, error) {
	if in.MessageText == "" {
		return nil, ErrEmptyMessage
	}

	now := time.Now().UTC()
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	var created *domain.Inquiry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch domain.Channel
		if err := tx.Where("id = ?", in.ChannelID).First(&ch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChannelNotFound
			}
			return err
		}

		var cust domain.Customer
		if err := tx.Where("id = ?", in.CustomerID).First(&cust).Error; err != nil {
			return err
		}
		if cust.BusinessID != ch.BusinessID {
			return ErrBusinessMismatch
		}

		inq := &domain.Inquiry{
			ID:                uuid.NewString(),
			BusinessID:        ch.BusinessID,
			ChannelID:         ch.ID,
			CustomerID:        cust.ID,
			PlatformMessageID: in.PlatformMessageID,
			MessageText:       in.MessageText,
			Status:            domain.StatusNew,
			ReceivedAt:        receivedAt,
		}
		if err := tx.Create(inq).Error; err != nil {
			return err
		}

		res := tx.Model(&domain.Customer{}).
			Where("id = ?", cust.ID).
			Updates(map[string]interface{}{
				"last_contact_at": now,
				"inquiry_count":   gorm.Expr("inquiry_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		created = inq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetInquiry fetches an inquiry by primary key.
func GetInquiry(ctx context.Context, db *gorm.DB, id string) (*domain.Inquiry, error) {
	var inq domain.Inquiry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&inq).Error; err != nil {
		return nil, err
	}
	return &inq, nil
}

// AnalysisUpdate holds the fields written back by the analysis worker.
type AnalysisUpdate struct {
	Type           string
	Summary        string
	Sentiment      string
	Urgency        string
	ExtractedInfo  string
	SuggestedReply string
	Confidence     *float64
}

// ApplyAnalysis writes the analysis fields, sets analyzed_at, and moves the
// inquiry to "in_progress" in a single guarded update. The WHERE clause on
// analyzed_at IS NULL makes the write idempotent: the first worker execution
// wins and any duplicate attempt reports applied=false without touching the
// row.
func ApplyAnalysis(ctx context.Context, db *gorm.DB, inquiryID string, up AnalysisUpdate) (applied bool, err error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Inquiry{}).
		Where("id = ? AND analyzed_at IS NULL", inquiryID).
		Updates(map[string]interface{}{
			"type":            up.Type,
			"summary":         up.Summary,
			"sentiment":       up.Sentiment,
			"urgency":         up.Urgency,
			"extracted_info":  up.ExtractedInfo,
			"suggested_reply": up.SuggestedReply,
			"ai_confidence":   up.Confidence,
			"analyzed_at":     now,
			"status":          domain.StatusInProgress,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListUnanalyzedBefore returns ids of "new" inquiries created before cutoff
// that still have no analysis. The reconciliation sweep re-enqueues them in
// case the post-commit enqueue was lost.
func ListUnanalyzedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Inquiry, error) {
	var out []domain.Inquiry
	err := db.WithContext(ctx).
		Where("status = ? AND analyzed_at IS NULL AND created_at < ?", domain.StatusNew, cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
