// Package model defines data structures shared by the chat client.
package model

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// StreamingPlaceholder is the sentinel content of an assistant message
// whose response has not produced a delta yet. The first delta replaces it.
const StreamingPlaceholder = "…"

// Message represents a conversation message as the client renders it.
// Locally created messages carry generated ids until the backend's
// authoritative list replaces them.
type Message struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	CreatedAt   string `json:"createdAt,omitempty"`
	IsStreaming bool   `json:"isStreaming,omitempty"`
}

// ConversationSummary is the compact record representing a conversation in
// a list view. At most one summary exists per conversation id.
type ConversationSummary struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
	CreatedAt          string `json:"created_at,omitempty"`
}

// Profile holds the persisted display profile of the signed-in user.
type Profile struct {
	Name string `json:"name,omitempty"`
}
