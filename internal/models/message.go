package models

import (
	"strings"
	"time"
)

// Channel identifies where an inbound message arrived from.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelWhatsApp Channel = "whatsapp"
)

// InboundMessage is a normalised user message. It is built once by the front door
// and never mutated afterwards.
type InboundMessage struct {
	Channel           Channel   `json:"channel"`
	UserID            string    `json:"user_id"`
	Text              string    `json:"text,omitempty"`
	MediaID           string    `json:"media_id,omitempty"`
	MediaCaption      string    `json:"media_caption,omitempty"`
	MediaPath         string    `json:"media_path,omitempty"`
	PlatformMessageID string    `json:"platform_message_id,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

func (m InboundMessage) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

func (m InboundMessage) HasMedia() bool {
	return m.MediaID != "" || m.MediaPath != ""
}

// WithMediaPath returns a copy carrying the local path of downloaded media.
func (m InboundMessage) WithMediaPath(path string) InboundMessage {
	m.MediaPath = path
	return m
}

// Query is the text recorded as the user side of a turn.
func (m InboundMessage) Query() string {
	switch {
	case m.HasText():
		return strings.TrimSpace(m.Text)
	case m.MediaCaption != "":
		return "[image] " + m.MediaCaption
	case m.HasMedia():
		return "[image]"
	}
	return ""
}
