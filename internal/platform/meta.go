// Meta (Messenger / Instagram) webhook adapter.
//
// Both platforms share the Graph API webhook envelope: a list of entries,
// each holding a list of messaging events. Echoes of the page's own outbound
// messages and deleted-message tombstones are dropped; attachments without
// text are skipped like any other unsupported content type.
package platform

import (
	"encoding/json"
	"fmt"
)

// metaBody is the subset of the Graph API webhook envelope the pipeline needs.
type metaBody struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID        string          `json:"id"`
	Time      int64           `json:"time"` // epoch millis
	Messaging []metaMessaging `json:"messaging"`
}

type metaMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"` // epoch millis
	Message   *struct {
		MID       string `json:"mid"`
		Text      string `json:"text"`
		IsEcho    bool   `json:"is_echo"`
		IsDeleted bool   `json:"is_deleted"`
	} `json:"message"`
}

type metaAdapter struct {
	platform Platform // Messenger or Instagram; identical wire family
}

func (a metaAdapter) Platform() Platform { return a.platform }

// Adapt flattens entry[].messaging[] into canonical messages in array order.
func (a metaAdapter) Adapt(raw []byte) ([]InboundMessage, error) {
	var body metaBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%s: invalid payload: %w", a.platform, err)
	}

	var out []InboundMessage
	for _, entry := range body.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho || ev.Message.IsDeleted {
				continue
			}
			if ev.Sender.ID == "" || ev.Message.Text == "" {
				continue
			}
			ts := ev.Timestamp
			if ts == 0 {
				ts = entry.Time
			}
			out = append(out, InboundMessage{
				Platform:          a.platform,
				PlatformUserID:    ev.Sender.ID,
				PlatformMessageID: ev.Message.MID,
				Text:              ev.Message.Text,
				ReceivedAtMs:      ts,
			})
		}
	}
	return out, nil
}
