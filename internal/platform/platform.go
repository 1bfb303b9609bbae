// Package platform normalizes the wire formats of the supported messaging
// platforms into one canonical InboundMessage. Each platform ships its own
// adapter; the webhook gateway dispatches on the platform tag taken from the
// route, never by sniffing the payload.
package platform

import (
	"fmt"
	"strconv"
)

// Platform tags the origin of an inbound message. The tag doubles as the
// route segment of the webhook URL (/webhooks/:platform/:channel_id).
type Platform string

const (
	LINE      Platform = "line"
	Messenger Platform = "messenger"
	Instagram Platform = "instagram"
	Telegram  Platform = "telegram"
)

// Parse validates a raw platform tag from the URL. It returns false for
// anything outside the supported set.
func Parse(s string) (Platform, bool) {
	switch Platform(s) {
	case LINE, Messenger, Instagram, Telegram:
		return Platform(s), true
	}
	return "", false
}

// InboundMessage is the canonical, ephemeral output of an adapter. It is
// consumed exactly once by the gateway and never persisted as-is.
type InboundMessage struct {
	Platform          Platform
	PlatformUserID    string
	PlatformMessageID string
	Text              string
	ReceivedAtMs      int64
	SenderDisplayName string
}

// EventID returns the identity used by the replay guard. The platform's own
// message id wins when present; otherwise the sender plus the event timestamp
// is the best available dedup key.
func (m InboundMessage) EventID() string {
	if m.PlatformMessageID != "" {
		return m.PlatformMessageID
	}
	return m.PlatformUserID + ":" + strconv.FormatInt(m.ReceivedAtMs, 10)
}

// Adapter parses one platform's webhook payload into canonical messages.
// Unsupported event or content types are a normal, silent no-op: adapters
// drop them and return the remainder, they do not error. An error signals a
// payload the platform should never have sent (malformed JSON).
type Adapter interface {
	Platform() Platform
	Adapt(raw []byte) ([]InboundMessage, error)
}

// ForPlatform returns the adapter registered for p.
func ForPlatform(p Platform) (Adapter, error) {
	switch p {
	case LINE:
		return lineAdapter{}, nil
	case Messenger:
		return metaAdapter{platform: Messenger}, nil
	case Instagram:
		return metaAdapter{platform: Instagram}, nil
	case Telegram:
		return telegramAdapter{}, nil
	}
	return nil, fmt.Errorf("no adapter for platform %q", p)
}
