package models

import "time"

// ConversationTurn is one user message and the assistant reply to it.
type ConversationTurn struct {
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	UserAt            time.Time `json:"user_at"`
	AssistantAt       time.Time `json:"assistant_at"`
}
