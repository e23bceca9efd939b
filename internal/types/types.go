// Package types provides shared type definitions for the application.
package types

import "time"

// Phase is the outward-visible session state. Exactly one phase is active
// at a time; Listening covers both "waiting for speech" and "capturing".
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseListening    Phase = "listening"
	PhaseProcessing   Phase = "processing"
	PhaseTextFallback Phase = "text_fallback"
)

// Exchange is one completed user/companion turn.
type Exchange struct {
	Timestamp time.Time `json:"timestamp"`
	UserText  string    `json:"userText"`
	ReplyText string    `json:"replyText"`
	Language  string    `json:"language,omitempty"` // detected ISO 639-1 code
}

// Session groups the exchanges recorded on one device between open and close.
type Session struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"deviceId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Exchanges []Exchange `json:"exchanges"`
}

// CaptionEvent is one update from the live caption engine.
// Final text accumulates; interim text replaces the previous interim tail.
type CaptionEvent struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Usage represents token usage statistics from LLM API calls.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}
