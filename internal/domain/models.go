// Package domain defines the persistence models for businesses, channels,
// customers, and inquiries. These types are mapped with GORM and form the
// core data layer of the inquiry ingestion pipeline.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Inquiry lifecycle statuses. An inquiry starts as StatusNew and moves to
// StatusInProgress once AI analysis has been applied; the remaining states
// are driven by downstream handling, not by this pipeline.
const (
	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusOnHold     = "on_hold"
)

// Analysis sentiment and urgency vocabularies. The AI provider is prompted to
// answer within these sets; out-of-vocabulary values are coerced to the
// neutral defaults before persisting.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Business represents one tenant receiving customer inquiries. The ingestion
// path only reads businesses; creation and editing belong to the (out of
// scope) administrative surface.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name of the business.
//   - Industry: free-form industry tag used to select the AI system prompt.
//   - ReplyLanguage: BCP-47 tag preferred for acknowledgement replies.
type Business struct {
	ID            string         `json:"id"             gorm:"type:char(36);primaryKey"`
	Name          string         `json:"name"           gorm:"type:varchar(255);not null"`
	Industry      string         `json:"industry"       gorm:"type:varchar(64);not null;default:'general'"`
	ReplyLanguage string         `json:"reply_language" gorm:"type:varchar(16);not null;default:'en'"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Business.
func (Business) TableName() string { return "businesses" }

// Channel binds one messaging-platform integration to a business. The webhook
// URL embeds the channel ID, so every inbound request resolves to exactly one
// channel and, through it, one business and one secret.
//
// Secret is the platform signing secret (LINE channel secret, Meta app secret,
// Telegram secret token). An empty secret disables signature verification and
// makes the origin allow-list mandatory for the channel's platform.
type Channel struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	BusinessID  string         `json:"business_id"  gorm:"type:char(36);not null;index:idx_business_channels"`
	Platform    string         `json:"platform"     gorm:"type:varchar(16);not null"`
	Secret      string         `json:"-"            gorm:"type:varchar(255);not null;default:''"`
	AccessToken string         `json:"-"            gorm:"type:varchar(512);not null;default:''"`
	VerifyToken string         `json:"-"            gorm:"type:varchar(255);not null;default:''"`
	Enabled     bool           `json:"enabled"      gorm:"not null;default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`

	// Business is the owning tenant.
	Business Business `json:"-" gorm:"foreignKey:BusinessID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Channel.
func (Channel) TableName() string { return "channels" }

// Customer represents one end-user on one platform for one business.
// Uniqueness on (business_id, platform, platform_user_id) is the key
// invariant; first contact creates the row, every later contact updates
// last_contact_at and the denormalized inquiry counter.
//
// InquiryCount is owned by the inquiry-creation transaction and is never
// recomputed from inquiry rows on the hot path.
type Customer struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	BusinessID     string         `json:"business_id"      gorm:"type:char(36);not null;uniqueIndex:ux_customer_identity,priority:1"`
	Platform       string         `json:"platform"         gorm:"type:varchar(16);not null;uniqueIndex:ux_customer_identity,priority:2"`
	PlatformUserID string         `json:"platform_user_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_customer_identity,priority:3"`
	DisplayName    string         `json:"display_name"     gorm:"type:varchar(255);not null;default:''"`
	FirstContactAt time.Time      `json:"first_contact_at" gorm:"not null"`
	LastContactAt  time.Time      `json:"last_contact_at"  gorm:"not null"`
	InquiryCount   int64          `json:"inquiry_count"    gorm:"not null;default:0"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// Inquiry is one customer-initiated contact event, created atomically with
// the customer's contact-counter update. Analysis fields are written at most
// once by the analysis worker; AnalyzedAt acts as the idempotency marker.
type Inquiry struct {
	ID                string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	BusinessID        string         `json:"business_id"         gorm:"type:char(36);not null;index:idx_business_inquiries,priority:1"`
	ChannelID         string         `json:"channel_id"          gorm:"type:char(36);not null;index"`
	CustomerID        string         `json:"customer_id"         gorm:"type:char(36);not null;index"`
	PlatformMessageID string         `json:"platform_message_id" gorm:"type:varchar(128);not null;default:''"`
	MessageText       string         `json:"message_text"        gorm:"type:text;not null"`
	Status            string         `json:"status"              gorm:"type:varchar(16);not null;default:'new';check:status IN ('new','in_progress','completed','on_hold');index:idx_business_inquiries,priority:2"`
	ReceivedAt        time.Time      `json:"received_at"         gorm:"not null"`
	Type              string         `json:"type,omitempty"      gorm:"type:varchar(32);not null;default:''"`
	Summary           string         `json:"summary,omitempty"   gorm:"type:text;not null;default:''"`
	Sentiment         string         `json:"sentiment,omitempty" gorm:"type:varchar(16);not null;default:''"`
	Urgency           string         `json:"urgency,omitempty"   gorm:"type:varchar(16);not null;default:''"`
	ExtractedInfo     string         `json:"extracted_info,omitempty" gorm:"type:text;not null;default:''"`
	SuggestedReply    string         `json:"suggested_reply,omitempty" gorm:"type:text;not null;default:''"`
	AIConfidence      *float64       `json:"ai_confidence,omitempty"`
	AnalyzedAt        *time.Time     `json:"analyzed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`

	// Customer is the authoring end-user. Inquiries are cascade-deleted if
	// their customer is removed (administrative action, never this pipeline).
	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Inquiry.
func (Inquiry) TableName() string { return "inquiries" }
