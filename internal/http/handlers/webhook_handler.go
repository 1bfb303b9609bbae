// Webhook HTTP handlers.
//
// This file exposes the inbound messaging endpoints:
//   - POST /webhooks/{platform}/{channel_id}   (event delivery)
//   - GET  /webhooks/{platform}/{channel_id}   (Meta-family verify handshake)
//
// Handlers are transport-thin: they read the raw body (signatures are
// computed over the exact bytes on the wire), resolve the client IP, call the
// ingest service, and translate service errors into HTTP responses.
//
// Status mapping matters to the platforms' retry machinery: duplicates and
// skipped events return 200 so redeliveries stop, security rejections return
// 403 and are never retried with the same payload, and only genuine
// infrastructure faults surface as 500 to request redelivery.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-inquiry-backend/internal/config"
	"github.com/tbourn/go-inquiry-backend/internal/platform"
	"github.com/tbourn/go-inquiry-backend/internal/repo"
	"github.com/tbourn/go-inquiry-backend/internal/security"
	"github.com/tbourn/go-inquiry-backend/internal/services"
)

// Handlers groups the HTTP endpoints for webhooks and reporting.
type Handlers struct {
	ingest *services.IngestService
	stats  *services.StatsService
	cfg    config.WebhookConfig
}

// New constructs a Handlers instance bound to the given services.
func New(ingest *services.IngestService, stats *services.StatsService, cfg config.WebhookConfig) *Handlers {
	return &Handlers{ingest: ingest, stats: stats, cfg: cfg}
}

// WebhookResponse is the JSON body returned for accepted deliveries.
type WebhookResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// ReceiveWebhook handles POST /webhooks/:platform/:channel_id.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	p, known := platform.Parse(c.Param("platform"))
	if !known {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown platform")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// MaxBytesReader surfaces oversized bodies as a read error.
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	var sig string
	if hdr, found := security.SignatureHeader(p); found {
		sig = c.GetHeader(hdr)
	}

	req := services.WebhookRequest{
		Platform:        p,
		ChannelID:       c.Param("channel_id"),
		RawBody:         body,
		SignatureHeader: sig,
		ClientIP:        security.ClientIP(c.Request, h.cfg.TrustProxyHeaders),
		RequestURL:      c.Request.URL.String(),
	}

	res, err := h.ingest.HandleWebhook(c.Request.Context(), req)
	if err != nil {
		status, code, msg := ingestFailure(err)
		fail(c, status, code, msg)
		return
	}

	ok(c, http.StatusOK, WebhookResponse{
		Accepted:   res.Accepted,
		Duplicates: res.Duplicates,
		Skipped:    res.Skipped,
	})
}

// ingestFailure translates an ingestion error into its HTTP response. The
// 4xx/5xx split decides whether the platform redelivers: validation defects
// can never succeed on retry and must not come back as 500.
func ingestFailure(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, services.ErrChannelNotFound),
		errors.Is(err, services.ErrChannelDisabled),
		errors.Is(err, services.ErrUnsupportedPlatform):
		return http.StatusNotFound, ErrCodeNotFound, "channel not found"
	case errors.Is(err, services.ErrSecurityRejected):
		return http.StatusForbidden, ErrCodeForbidden, "request failed security validation"
	case errors.Is(err, services.ErrMalformedPayload):
		return http.StatusBadRequest, ErrCodeBadRequest, "malformed payload"
	case errors.Is(err, repo.ErrBusinessMismatch),
		errors.Is(err, repo.ErrEmptyMessage):
		return http.StatusBadRequest, ErrCodeBadRequest, "message not valid for channel"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "ingestion failed"
	}
}

// VerifyWebhook handles GET /webhooks/:platform/:channel_id, the subscription
// handshake used by the Meta-family platforms. The challenge is echoed back
// as plain text on success, per the platform contract.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	challenge, err := h.ingest.VerifyChallenge(
		c.Request.Context(),
		c.Param("channel_id"),
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChannelNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "channel not found")
		case errors.Is(err, services.ErrVerifyTokenMismatch):
			fail(c, http.StatusForbidden, ErrCodeVerifyFailed, "verify token mismatch")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "verification failed")
		}
		return
	}
	c.String(http.StatusOK, challenge)
}
