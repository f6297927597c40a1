package api

import (
	"strconv"
	"strings"
	"time"

	"laneassist/internal/models"
)

// webhookEnvelope is the subset of the WhatsApp Cloud API webhook payload we read.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string      `json:"field"`
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []waMessage `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		RecipientID string `json:"recipient_id"`
	} `json:"statuses"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image *struct {
		ID       string `json:"id"`
		Caption  string `json:"caption"`
		MimeType string `json:"mime_type"`
	} `json:"image,omitempty"`
}

type eventKind int

const (
	eventNone eventKind = iota
	eventStatus
	eventMessage
)

// extract returns the first processable message in the envelope. Status updates are
// reported only when the envelope carries no message at all.
func (e *webhookEnvelope) extract() (models.InboundMessage, eventKind) {
	kind := eventNone
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if len(v.Messages) == 0 {
				if len(v.Statuses) > 0 {
					kind = eventStatus
				}
				continue
			}
			m := v.Messages[0]
			msg := models.InboundMessage{
				Channel:           models.ChannelWhatsApp,
				UserID:            m.From,
				PlatformMessageID: m.ID,
				ReceivedAt:        parseUnix(m.Timestamp),
			}
			if len(v.Contacts) > 0 && v.Contacts[0].WaID != "" {
				msg.UserID = v.Contacts[0].WaID
			}
			switch {
			case m.Text != nil:
				msg.Text = strings.TrimSpace(m.Text.Body)
			case m.Image != nil:
				msg.MediaID = m.Image.ID
				msg.MediaCaption = strings.TrimSpace(m.Image.Caption)
			}
			if msg.UserID == "" || msg.PlatformMessageID == "" || (!msg.HasText() && !msg.HasMedia()) {
				continue
			}
			return msg, eventMessage
		}
	}
	return models.InboundMessage{}, kind
}

func parseUnix(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
