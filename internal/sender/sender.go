// Package sender delivers suggested replies back to the originating
// platform. Delivery is fire-and-forget from the pipeline's perspective:
// failures are logged and never affect the inquiry record or the job
// outcome, and there is no ordering guarantee with the inbound path.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-inquiry-backend/internal/domain"
	"github.com/tbourn/go-inquiry-backend/internal/platform"
)

// Sender pushes one reply to one customer.
type Sender interface {
	SendReply(ctx context.Context, ch domain.Channel, cust domain.Customer, text string) error
}

// Dispatcher is the HTTP implementation of Sender. Base URLs are fields so
// tests can point them at a local server.
type Dispatcher struct {
	HTTPClient *http.Client
	Log        zerolog.Logger

	LINEBaseURL     string // default https://api.line.me
	MetaBaseURL     string // default https://graph.facebook.com/v19.0
	TelegramBaseURL string // default https://api.telegram.org
}

// New constructs a Dispatcher with production endpoints.
func New(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
		Log:             log,
		LINEBaseURL:     "https://api.line.me",
		MetaBaseURL:     "https://graph.facebook.com/v19.0",
		TelegramBaseURL: "https://api.telegram.org",
	}
}

// SendReply dispatches on the channel's platform. A channel without an
// access token cannot send; that is a silent no-op, not an error, because
// reply delivery is an optional courtesy.
func (d *Dispatcher) SendReply(ctx context.Context, ch domain.Channel, cust domain.Customer, text string) error {
	if text == "" || ch.AccessToken == "" {
		return nil
	}
	switch platform.Platform(ch.Platform) {
	case platform.LINE:
		return d.post(ctx,
			d.LINEBaseURL+"/v2/bot/message/push",
			map[string]any{
				"to":       cust.PlatformUserID,
				"messages": []map[string]string{{"type": "text", "text": text}},
			},
			"Bearer "+ch.AccessToken)
	case platform.Messenger, platform.Instagram:
		return d.post(ctx,
			d.MetaBaseURL+"/me/messages?access_token="+ch.AccessToken,
			map[string]any{
				"recipient": map[string]string{"id": cust.PlatformUserID},
				"message":   map[string]string{"text": text},
			},
			"")
	case platform.Telegram:
		return d.post(ctx,
			d.TelegramBaseURL+"/bot"+ch.AccessToken+"/sendMessage",
			map[string]any{
				"chat_id": cust.PlatformUserID,
				"text":    text,
			},
			"")
	}
	return fmt.Errorf("no sender for platform %q", ch.Platform)
}

func (d *Dispatcher) post(ctx context.Context, url string, payload any, auth string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reply delivery returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
