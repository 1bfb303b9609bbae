// Package services – IngestService
//
// This file implements the webhook gateway orchestration: per inbound
// request it validates the origin (signature or CIDR), records the audit
// row, adapts the platform payload into canonical messages, and for each
// message runs timestamp check → replay guard → customer upsert → inquiry
// transaction → job enqueue.
//
// The gateway never blocks on analysis: a successful inquiry commit followed
// by a failed enqueue is logged and left for the reconciliation sweep, never
// rolled back.
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

	"github.com/tbourn/go-inquiry-backend/internal/config"
	"github.com/tbourn/go-inquiry-backend/internal/domain"
	"github.com/tbourn/go-inquiry-backend/internal/platform"
	"github.com/tbourn/go-inquiry-backend/internal/queue"
	"github.com/tbourn/go-inquiry-backend/internal/replay"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
	"github.com/tbourn/go-inquiry-backend/internal/security"
)

// webhookEvents counts inbound deliveries by platform and outcome.
var webhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound webhook deliveries by platform and outcome.",
	},
	[]string{"platform", "outcome"},
)

func init() {
	prometheus.MustRegister(webhookEvents)
}

// WebhookRequest is the transport-independent description of one inbound
// delivery, assembled by the HTTP handler.
type WebhookRequest struct {
	Platform        platform.Platform
	ChannelID       string
	RawBody         []byte
	SignatureHeader string
	ClientIP        string
	RequestURL      string
}

// IngestResult summarizes what one delivery produced.
type IngestResult struct {
	Accepted   int // inquiries created and enqueued
	Duplicates int // messages suppressed by the replay guard
	Skipped    int // non-text/stale/empty events dropped silently
}

// IngestService orchestrates the webhook gateway path.
type IngestService struct {
	DB     *gorm.DB
	Guard  *replay.Guard
	Queue  queue.Queue
	Cfg    config.WebhookConfig
	Log    zerolog.Logger
}

// NewIngestService wires the gateway dependencies.
func NewIngestService(db *gorm.DB, guard *replay.Guard, q queue.Queue, cfg config.WebhookConfig, log zerolog.Logger) *IngestService {
	return &IngestService{DB: db, Guard: guard, Queue: q, Cfg: cfg, Log: log}
}

// HandleWebhook runs the full gateway pipeline for one delivery.
//
// Error contract (mapped to HTTP by the handler):
//   - ErrChannelNotFound / ErrChannelDisabled → 404
//   - ErrSecurityRejected → 403
//   - ErrMalformedPayload → 400
//   - anything else → 500 (the platform retries delivery per its own policy)
//
// Duplicates are not errors: platforms expect a 2xx for redelivered events.
func (s *IngestService) HandleWebhook(ctx context.Context, req WebhookRequest) (*IngestResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "HandleWebhook",
		trace.WithAttributes(
			attribute.String("platform", string(req.Platform)),
			attribute.String("channel.id", req.ChannelID),
		),
	)
	defer span.End()

	ch, err := repo.GetChannel(ctx, s.DB, req.ChannelID)
	if err != nil {
		if errors.Is(err, repo.ErrChannelNotFound) {
			webhookEvents.WithLabelValues(string(req.Platform), "unknown_channel").Inc()
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	if !ch.Enabled {
		webhookEvents.WithLabelValues(string(req.Platform), "disabled_channel").Inc()
		return nil, ErrChannelDisabled
	}
	if ch.Platform != string(req.Platform) {
		webhookEvents.WithLabelValues(string(req.Platform), "unknown_channel").Inc()
		return nil, ErrChannelNotFound
	}

	if err := s.authenticate(req, ch); err != nil {
		s.Log.Warn().
			Str("platform", string(req.Platform)).
			Str("channel_id", ch.ID).
			Str("client_ip", req.ClientIP).
			Str("url", req.RequestURL).
			Msg("webhook rejected by security validation")
		webhookEvents.WithLabelValues(string(req.Platform), "security_rejected").Inc()
		s.audit(ctx, req, "security_rejected")
		return nil, err
	}

	// Audit row before processing; best effort by design.
	s.audit(ctx, req, "accepted")

	adapter, err := platform.ForPlatform(req.Platform)
	if err != nil {
		return nil, ErrUnsupportedPlatform
	}
	msgs, err := adapter.Adapt(req.RawBody)
	if err != nil {
		webhookEvents.WithLabelValues(string(req.Platform), "malformed").Inc()
		return nil, ErrMalformedPayload
	}

	res := &IngestResult{}
	for _, msg := range msgs {
		outcome, err := s.ingestOne(ctx, ch, msg)
		if err != nil {
			// One bad message must not drop its siblings, but infra errors
			// need the platform to redeliver: surface the first one after
			// finishing the batch would re-process the earlier messages on
			// retry, so fail fast here and let the replay guard absorb the
			// already-ingested prefix on redelivery.
			s.logIngestFailure(ctx, req, msg, err)
			return res, err
		}
		switch outcome {
		case outcomeAccepted:
			res.Accepted++
		case outcomeDuplicate:
			res.Duplicates++
		default:
			res.Skipped++
		}
	}

	webhookEvents.WithLabelValues(string(req.Platform), "processed").Inc()
	return res, nil
}

type ingestOutcome int

const (
	outcomeSkipped ingestOutcome = iota
	outcomeDuplicate
	outcomeAccepted
)

// ingestOne processes a single canonical message through dedup, customer
// resolution, the inquiry transaction, and job dispatch.
func (s *IngestService) ingestOne(ctx context.Context, ch *domain.Channel, msg platform.InboundMessage) (ingestOutcome, error) {
	if msg.Text == "" {
		return outcomeSkipped, nil
	}
	if !s.Guard.ValidTimestamp(msg.ReceivedAtMs, s.Cfg.MaxEventAge) {
		s.Log.Debug().
			Str("platform", string(msg.Platform)).
			Int64("event_ms", msg.ReceivedAtMs).
			Msg("dropping stale or clock-skewed event")
		return outcomeSkipped, nil
	}
	if s.Guard.IsDuplicate(ctx, msg.Platform, msg.EventID()) {
		s.Log.Debug().
			Str("platform", string(msg.Platform)).
			Str("event_id", msg.EventID()).
			Msg("duplicate event suppressed")
		return outcomeDuplicate, nil
	}

	cust, err := repo.UpsertCustomer(ctx, s.DB, ch.BusinessID, string(msg.Platform), msg.PlatformUserID, msg.SenderDisplayName)
	if err != nil {
		// The guard recorded this event but nothing durable exists yet. Release
		// the key, otherwise the platform's redelivery reads as a duplicate and
		// the message is lost with no inquiry row for the sweep to find.
		s.Guard.Forget(ctx, msg.Platform, msg.EventID())
		return outcomeSkipped, err
	}

	inq, err := repo.CreateInquiry(ctx, s.DB, repo.CreateInquiryInput{
		ChannelID:         ch.ID,
		CustomerID:        cust.ID,
		PlatformMessageID: msg.PlatformMessageID,
		MessageText:       msg.Text,
		ReceivedAt:        time.UnixMilli(msg.ReceivedAtMs).UTC(),
	})
	if err != nil {
		s.Guard.Forget(ctx, msg.Platform, msg.EventID())
		return outcomeSkipped, err
	}

	job := queue.Job{
		InquiryID:  inq.ID,
		BusinessID: inq.BusinessID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		// The inquiry is committed; losing the job is recoverable via the
		// reconciliation sweep. Never unwind the commit.
		s.Log.Error().Err(err).
			Str("inquiry_id", inq.ID).
			Msg("analysis job enqueue failed after inquiry commit")
		webhookEvents.WithLabelValues(string(msg.Platform), "enqueue_failed").Inc()
	}

	return outcomeAccepted, nil
}

// authenticate applies the signature-or-origin rule: a configured secret
// means the signature must verify; an empty secret downgrades to mandatory
// CIDR containment. The two checks are complementary, at least one is always
// active.
func (s *IngestService) authenticate(req WebhookRequest, ch *domain.Channel) error {
	if ch.Secret != "" {
		if !security.VerifySignature(req.Platform, req.RawBody, req.SignatureHeader, ch.Secret) {
			return ErrSecurityRejected
		}
		return nil
	}
	if !security.IsOriginAllowed(req.ClientIP, req.Platform) {
		return ErrSecurityRejected
	}
	return nil
}

// audit records the delivery verbatim; failures are logged, never fatal.
func (s *IngestService) audit(ctx context.Context, req WebhookRequest, outcome string) {
	err := repo.CreateWebhookEvent(ctx, s.DB, string(req.Platform), req.ChannelID, req.ClientIP, string(req.RawBody), outcome)
	if err != nil {
		s.Log.Warn().Err(err).Msg("webhook audit write failed")
	}
}

// logIngestFailure persists an error-log row with serialized context for
// every uncaught ingestion failure.
func (s *IngestService) logIngestFailure(ctx context.Context, req WebhookRequest, msg platform.InboundMessage, cause error) {
	s.Log.Error().Err(cause).
		Str("platform", string(req.Platform)).
		Str("channel_id", req.ChannelID).
		Str("event_id", msg.EventID()).
		Msg("ingestion failed")

	ctxBlob, _ := json.Marshal(map[string]any{
		"platform":   req.Platform,
		"channel_id": req.ChannelID,
		"event_id":   msg.EventID(),
		"client_ip":  req.ClientIP,
		"url":        req.RequestURL,
	})
	if err := repo.CreateErrorLog(ctx, s.DB, "ingest", cause.Error(), string(ctxBlob)); err != nil {
		s.Log.Warn().Err(err).Msg("error log write failed")
	}
}

// VerifyChallenge implements the Meta-family GET handshake: echo the
// challenge back iff the presented verify token matches the channel's
// configured token (falling back to the deployment default).
func (s *IngestService) VerifyChallenge(ctx context.Context, channelID, mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		return "", ErrVerifyTokenMismatch
	}
	ch, err := repo.GetChannel(ctx, s.DB, channelID)
	if err != nil {
		if errors.Is(err, repo.ErrChannelNotFound) {
			return "", ErrChannelNotFound
		}
		return "", err
	}
	want := ch.VerifyToken
	if want == "" {
		want = s.Cfg.DefaultVerifyToken
	}
	if want == "" || !security.ConstantTimeTokenEqual(token, want) {
		return "", ErrVerifyTokenMismatch
	}
	return challenge, nil
}
