package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
	"gorm.io/gorm"
)

// seedTenant creates one business with one enabled channel and one customer.
func seedTenant(t *testing.T, db *gorm.DB) (biz domain.Business, ch domain.Channel, cust domain.Customer) {
	t.Helper()
	biz = domain.Business{ID: "b1", Name: "Sakura Salon", Industry: "salon", ReplyLanguage: "ja"}
	if err := db.Create(&biz).Error; err != nil {
		t.Fatalf("seed business: %v", err)
	}
	ch = domain.Channel{ID: "c1", BusinessID: biz.ID, Platform: "line", Secret: "s3cret", Enabled: true}
	if err := db.Create(&ch).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	now := time.Now().UTC()
	cust = domain.Customer{
		ID: "u1", BusinessID: biz.ID, Platform: "line", PlatformUserID: "U100",
		FirstContactAt: now, LastContactAt: now,
	}
	if err := db.Create(&cust).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return biz, ch, cust
}

func TestCreateInquiry_CommitsRowAndBumpsCounter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, ch, cust := seedTenant(t, db)

	inq, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID:         ch.ID,
		CustomerID:        cust.ID,
		PlatformMessageID: "m1",
		MessageText:       "do you have openings tomorrow?",
		ReceivedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateInquiry: %v", err)
	}
	if inq.ID == "" || inq.BusinessID != "b1" || inq.Status != domain.StatusNew {
		t.Fatalf("unexpected inquiry: %+v", inq)
	}
	if inq.AnalyzedAt != nil {
		t.Fatalf("fresh inquiry must not be analyzed")
	}

	var got domain.Customer
	if err := db.Where("id = ?", cust.ID).First(&got).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if got.InquiryCount != 1 {
		t.Fatalf("inquiry_count = %d, want 1", got.InquiryCount)
	}
	if !got.LastContactAt.After(cust.LastContactAt.Add(-time.Second)) {
		t.Fatalf("last_contact_at not advanced: %v", got.LastContactAt)
	}
}

func TestCreateInquiry_CounterFailureRollsBackInsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, ch, cust := seedTenant(t, db)

	// Force a failure between the inquiry insert and the counter bump: a
	// trigger aborts any customer update, so the transaction must roll both
	// writes back together.
	if err := db.Exec(`CREATE TRIGGER fail_counter_bump BEFORE UPDATE ON customers
		BEGIN SELECT RAISE(ABORT, 'injected counter failure'); END;`).Error; err != nil {
		t.Fatalf("install trigger: %v", err)
	}

	_, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID:   ch.ID,
		CustomerID:  cust.ID,
		MessageText: "will be rolled back",
	})
	if err == nil {
		t.Fatalf("expected failure from the injected trigger")
	}

	var inquiries int64
	db.Model(&domain.Inquiry{}).Count(&inquiries)
	if inquiries != 0 {
		t.Fatalf("inquiry insert survived the rollback: %d rows", inquiries)
	}
	var got domain.Customer
	if err := db.Where("id = ?", cust.ID).First(&got).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if got.InquiryCount != 0 {
		t.Fatalf("counter changed despite rollback: %d", got.InquiryCount)
	}

	// With the fault removed the same input commits cleanly.
	if err := db.Exec(`DROP TRIGGER fail_counter_bump`).Error; err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID:   ch.ID,
		CustomerID:  cust.ID,
		MessageText: "retry succeeds",
	}); err != nil {
		t.Fatalf("retry after fault removal: %v", err)
	}
	db.Model(&domain.Inquiry{}).Count(&inquiries)
	if inquiries != 1 {
		t.Fatalf("retry did not commit exactly one inquiry: %d", inquiries)
	}
}

func TestCreateInquiry_UnknownChannelRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, _, cust := seedTenant(t, db)

	_, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID:   "missing",
		CustomerID:  cust.ID,
		MessageText: "hello",
	})
	if !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}

	var inquiries int64
	db.Model(&domain.Inquiry{}).Count(&inquiries)
	if inquiries != 0 {
		t.Fatalf("failed transaction left %d inquiry rows", inquiries)
	}
	var got domain.Customer
	db.Where("id = ?", cust.ID).First(&got)
	if got.InquiryCount != 0 {
		t.Fatalf("failed transaction bumped the counter to %d", got.InquiryCount)
	}
}

func TestCreateInquiry_BusinessMismatchRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, ch, _ := seedTenant(t, db)

	other := domain.Customer{
		ID: "u2", BusinessID: "b-other", Platform: "line", PlatformUserID: "U200",
		FirstContactAt: time.Now().UTC(), LastContactAt: time.Now().UTC(),
	}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("seed foreign customer: %v", err)
	}

	_, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID:   ch.ID,
		CustomerID:  other.ID,
		MessageText: "hello",
	})
	if !errors.Is(err, ErrBusinessMismatch) {
		t.Fatalf("expected ErrBusinessMismatch, got %v", err)
	}
}

func TestCreateInquiry_EmptyMessageRejected(t *testing.T) {
	db := newTestDB(t)
	if _, err := CreateInquiry(context.Background(), db, CreateInquiryInput{
		ChannelID: "c1", CustomerID: "u1",
	}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestApplyAnalysis_FirstWriteWinsThenNoOp(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, ch, cust := seedTenant(t, db)

	inq, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID: ch.ID, CustomerID: cust.ID, MessageText: "is parking available?",
	})
	if err != nil {
		t.Fatalf("CreateInquiry: %v", err)
	}

	conf := 0.92
	up := AnalysisUpdate{
		Type:           "question",
		Summary:        "asks about parking",
		Sentiment:      domain.SentimentNeutral,
		Urgency:        domain.UrgencyLow,
		ExtractedInfo:  `{"topic":"parking"}`,
		SuggestedReply: "Yes, we have parking.",
		Confidence:     &conf,
	}

	applied, err := ApplyAnalysis(ctx, db, inq.ID, up)
	if err != nil || !applied {
		t.Fatalf("first ApplyAnalysis: applied=%v err=%v", applied, err)
	}

	got, err := GetInquiry(ctx, db, inq.ID)
	if err != nil {
		t.Fatalf("GetInquiry: %v", err)
	}
	if got.Status != domain.StatusInProgress || got.AnalyzedAt == nil {
		t.Fatalf("analysis not persisted: status=%q analyzed_at=%v", got.Status, got.AnalyzedAt)
	}
	if got.Type != "question" || got.SuggestedReply != "Yes, we have parking." {
		t.Fatalf("analysis fields not written: %+v", got)
	}
	if got.AIConfidence == nil || *got.AIConfidence != conf {
		t.Fatalf("confidence not written: %v", got.AIConfidence)
	}

	// Second attempt must be a reported no-op that changes nothing.
	up.Summary = "second writer"
	applied, err = ApplyAnalysis(ctx, db, inq.ID, up)
	if err != nil || applied {
		t.Fatalf("second ApplyAnalysis: applied=%v err=%v", applied, err)
	}
	again, _ := GetInquiry(ctx, db, inq.ID)
	if again.Summary != "asks about parking" {
		t.Fatalf("duplicate analysis overwrote the row: %q", again.Summary)
	}
}

func TestListUnanalyzedBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, ch, cust := seedTenant(t, db)

	oldInq, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID: ch.ID, CustomerID: cust.ID, MessageText: "stranded",
	})
	if err != nil {
		t.Fatalf("CreateInquiry: %v", err)
	}
	// Age the row beyond the cutoff.
	if err := db.Model(&domain.Inquiry{}).Where("id = ?", oldInq.ID).
		Update("created_at", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age inquiry: %v", err)
	}
	if _, err := CreateInquiry(ctx, db, CreateInquiryInput{
		ChannelID: ch.ID, CustomerID: cust.ID, MessageText: "fresh",
	}); err != nil {
		t.Fatalf("CreateInquiry: %v", err)
	}

	stranded, err := ListUnanalyzedBefore(ctx, db, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListUnanalyzedBefore: %v", err)
	}
	if len(stranded) != 1 || stranded[0].ID != oldInq.ID {
		t.Fatalf("expected only the aged inquiry, got %+v", stranded)
	}

	// Once analyzed it must drop out of the sweep.
	if _, err := ApplyAnalysis(ctx, db, oldInq.ID, AnalysisUpdate{Sentiment: domain.SentimentNeutral}); err != nil {
		t.Fatalf("ApplyAnalysis: %v", err)
	}
	stranded, err = ListUnanalyzedBefore(ctx, db, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListUnanalyzedBefore: %v", err)
	}
	if len(stranded) != 0 {
		t.Fatalf("analyzed inquiry still listed: %+v", stranded)
	}
}
