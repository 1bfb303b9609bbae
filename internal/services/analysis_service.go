// Package services – AnalysisService
//
// This file implements the analysis side of the pipeline: given one queued
// job, load the inquiry, skip it if already analyzed, call the AI provider
// through the circuit breaker, and persist the result in a single guarded
// update. Any provider failure — breaker open, timeout, malformed answer —
// degrades to a conservative default analysis instead of failing the job:
// the business always gets a usable inquiry record.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/language"

	"github.com/tbourn/go-inquiry-backend/internal/ai"
	"github.com/tbourn/go-inquiry-backend/internal/breaker"
	"github.com/tbourn/go-inquiry-backend/internal/cache"
	"github.com/tbourn/go-inquiry-backend/internal/domain"
	"github.com/tbourn/go-inquiry-backend/internal/queue"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
	"github.com/tbourn/go-inquiry-backend/internal/sender"
)

// analysisOutcomes counts finished analysis attempts by outcome.
var analysisOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analysis_jobs_total",
		Help: "Analysis job executions by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(analysisOutcomes)
}

// Analyzer is the provider-call seam; *ai.Client satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, req ai.Request) (*ai.Result, error)
}

// AnalysisService executes one analysis job end to end.
type AnalysisService struct {
	DB      *gorm.DB
	AI      Analyzer
	Breaker *breaker.Breaker
	Cache   *cache.Store
	Sender  sender.Sender // optional; nil disables reply delivery
	Log     zerolog.Logger
}

// fallback acknowledgement replies by language. A degraded AI dependency
// still owes the end user a response; these are matched against the
// business's preferred reply language.
var (
	ackMatcher = language.NewMatcher([]language.Tag{
		language.English, // fallback
		language.Japanese,
		language.Greek,
		language.Spanish,
		language.German,
	})
	ackReplies = []string{
		"Thank you for your message. We have received it and will get back to you shortly.",
		"メッセージありがとうございます。確認のうえ、追ってご連絡いたします。",
		"Ευχαριστούμε για το μήνυμά σας. Το λάβαμε και θα επικοινωνήσουμε σύντομα μαζί σας.",
		"Gracias por su mensaje. Lo hemos recibido y le responderemos en breve.",
		"Vielen Dank für Ihre Nachricht. Wir haben sie erhalten und melden uns in Kürze.",
	}
)

// Process handles one job. A nil return acknowledges the job; an error asks
// the worker to retry (and eventually dead-letter). Provider failures never
// surface as errors — they are recovered locally with the default analysis.
func (s *AnalysisService) Process(ctx context.Context, job queue.Job) error {
	tr := otel.Tracer("services/AnalysisService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("inquiry.id", job.InquiryID),
			attribute.Int("attempt", job.Attempt),
		),
	)
	defer span.End()

	inq, err := repo.GetInquiry(ctx, s.DB, job.InquiryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The inquiry vanished (administrative delete); retrying cannot
			// help, treat as done with a trace.
			s.Log.Warn().Str("inquiry_id", job.InquiryID).Msg("analysis job references missing inquiry; dropping")
			analysisOutcomes.WithLabelValues("missing").Inc()
			return nil
		}
		return err
	}

	// Idempotency: at most one successful analysis per inquiry.
	if inq.AnalyzedAt != nil {
		s.Log.Warn().
			Str("inquiry_id", inq.ID).
			Time("analyzed_at", *inq.AnalyzedAt).
			Msg("inquiry already analyzed; skipping")
		analysisOutcomes.WithLabelValues("already_analyzed").Inc()
		return nil
	}

	var biz domain.Business
	if err := s.DB.WithContext(ctx).Where("id = ?", inq.BusinessID).First(&biz).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.Log.Warn().Str("inquiry_id", inq.ID).Msg("inquiry references missing business; dropping")
			analysisOutcomes.WithLabelValues("missing").Inc()
			return nil
		}
		return err
	}

	result, degraded := s.analyzeWithFallback(ctx, &biz, inq)

	update := repo.AnalysisUpdate{
		Type:           result.Type,
		Summary:        result.Summary,
		Sentiment:      result.Sentiment,
		Urgency:        result.Urgency,
		ExtractedInfo:  string(result.ExtractedInfo),
		SuggestedReply: result.SuggestedReply,
		Confidence:     &result.Confidence,
	}
	applied, err := repo.ApplyAnalysis(ctx, s.DB, inq.ID, update)
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race against a concurrent worker execution; their write
		// stands, ours is a no-op.
		s.Log.Warn().Str("inquiry_id", inq.ID).Msg("analysis already applied concurrently")
		analysisOutcomes.WithLabelValues("already_analyzed").Inc()
		return nil
	}

	if err := s.Cache.InvalidatePrefix(ctx, StatsCacheKeyPrefix(inq.BusinessID)); err != nil {
		s.Log.Warn().Err(err).Str("business_id", inq.BusinessID).Msg("stats cache invalidation failed")
	}

	s.deliverReply(inq, result.SuggestedReply)

	if degraded {
		analysisOutcomes.WithLabelValues("degraded").Inc()
	} else {
		analysisOutcomes.WithLabelValues("analyzed").Inc()
	}
	return nil
}

// analyzeWithFallback calls the provider through the breaker and substitutes
// the conservative default on any failure.
func (s *AnalysisService) analyzeWithFallback(ctx context.Context, biz *domain.Business, inq *domain.Inquiry) (*ai.Result, bool) {
	v, err := s.Breaker.Do(ctx, func(callCtx context.Context) (any, error) {
		return s.AI.Analyze(callCtx, ai.Request{
			Industry: biz.Industry,
			Language: biz.ReplyLanguage,
			Message:  inq.MessageText,
		})
	})
	if err == nil {
		return v.(*ai.Result), false
	}

	ev := s.Log.Warn().Err(err).Str("inquiry_id", inq.ID)
	if errors.Is(err, breaker.ErrOpen) {
		ev = ev.Str("breaker", "open")
	}
	ev.Msg("ai analysis degraded to default")

	return s.defaultAnalysis(biz.ReplyLanguage), true
}

// defaultAnalysis is the conservative stand-in used when the AI dependency
// is degraded: neutral sentiment, medium urgency, a localized generic
// acknowledgement, and zero confidence so reporting can tell it apart.
func (s *AnalysisService) defaultAnalysis(replyLanguage string) *ai.Result {
	tag, err := language.Parse(replyLanguage)
	if err != nil {
		tag = language.English
	}
	_, idx, _ := ackMatcher.Match(tag)
	return &ai.Result{
		Type:           "other",
		Summary:        "Automatic analysis unavailable; default acknowledgement applied.",
		ExtractedInfo:  json.RawMessage(`{}`),
		Sentiment:      domain.SentimentNeutral,
		Urgency:        domain.UrgencyMedium,
		SuggestedReply: ackReplies[idx],
		Confidence:     0,
	}
}

// deliverReply pushes the suggested reply back to the platform without
// blocking or failing the job.
func (s *AnalysisService) deliverReply(inq *domain.Inquiry, text string) {
	if s.Sender == nil || text == "" {
		return
	}
	// Snapshot what the goroutine needs; the job context ends with Process.
	inquiryID := inq.ID
	channelID := inq.ChannelID
	customerID := inq.CustomerID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		ch, err := repo.GetChannel(ctx, s.DB, channelID)
		if err != nil {
			s.Log.Warn().Err(err).Str("inquiry_id", inquiryID).Msg("reply delivery skipped: channel lookup failed")
			return
		}
		cust, err := repo.GetCustomer(ctx, s.DB, customerID)
		if err != nil {
			s.Log.Warn().Err(err).Str("inquiry_id", inquiryID).Msg("reply delivery skipped: customer lookup failed")
			return
		}
		if err := s.Sender.SendReply(ctx, *ch, *cust, text); err != nil {
			s.Log.Warn().Err(err).Str("inquiry_id", inquiryID).Msg("reply delivery failed")
		}
	}()
}
