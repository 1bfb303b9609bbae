// LINE webhook adapter.
//
// LINE batches multiple events per webhook call under "events". Only events
// of type "message" carrying a text message body become inquiries; stickers,
// images, follows, joins, and every other event kind are skipped silently.
package platform

import (
	"encoding/json"
	"fmt"
)

// lineBody is the subset of the LINE webhook envelope the pipeline needs.
type lineBody struct {
	Events []lineEvent `json:"events"`
}

type lineEvent struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	Source    struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
}

type lineAdapter struct{}

func (lineAdapter) Platform() Platform { return LINE }

// Adapt extracts text messages from a LINE webhook envelope, preserving the
// array order of the batch. Redeliveries are kept: the replay guard decides
// whether they were already processed.
func (lineAdapter) Adapt(raw []byte) ([]InboundMessage, error) {
	var body lineBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("line: invalid payload: %w", err)
	}

	out := make([]InboundMessage, 0, len(body.Events))
	for _, ev := range body.Events {
		if ev.Type != "message" || ev.Message.Type != "text" {
			continue
		}
		if ev.Source.UserID == "" || ev.Message.Text == "" {
			continue
		}
		out = append(out, InboundMessage{
			Platform:          LINE,
			PlatformUserID:    ev.Source.UserID,
			PlatformMessageID: ev.Message.ID,
			Text:              ev.Message.Text,
			ReceivedAtMs:      ev.Timestamp,
		})
	}
	return out, nil
}
