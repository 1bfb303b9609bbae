// Telegram webhook adapter.
//
// Telegram delivers exactly one Update per webhook call. The wire types come
// from the Bot API SDK so the adapter stays in lockstep with the upstream
// schema; only plain text messages from human senders become inquiries.
package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAdapter struct{}

func (telegramAdapter) Platform() Platform { return Telegram }

// Adapt converts a single Telegram Update into at most one canonical message.
// Edited messages, channel posts, bot senders, and non-text content are
// skipped silently.
func (telegramAdapter) Adapt(raw []byte) ([]InboundMessage, error) {
	var upd tgbotapi.Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return nil, fmt.Errorf("telegram: invalid payload: %w", err)
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil, nil
	}
	text := msg.Text
	if text == "" {
		return nil, nil
	}

	// Telegram message ids are only unique per chat; combine with the chat id
	// so the replay key cannot collide across conversations.
	var eventID string
	if msg.Chat != nil {
		eventID = strconv.FormatInt(msg.Chat.ID, 10) + ":" + strconv.Itoa(msg.MessageID)
	} else {
		eventID = strconv.Itoa(msg.MessageID)
	}

	return []InboundMessage{{
		Platform:          Telegram,
		PlatformUserID:    strconv.FormatInt(msg.From.ID, 10),
		PlatformMessageID: eventID,
		Text:              text,
		ReceivedAtMs:      int64(msg.Date) * 1000,
		SenderDisplayName: telegramDisplayName(msg.From),
	}}, nil
}

func telegramDisplayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = u.UserName
	}
	return name
}
