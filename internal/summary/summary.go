// Package summary derives compact conversation summaries from message
// lists.
package summary

import (
	"strings"
	"time"

	"github.com/eloquent-ai/operator-client/internal/model"
)

const (
	titleLimit   = 60
	previewLimit = 80
)

// Clamp collapses whitespace runs to single spaces, trims, and truncates
// to max runes with a trailing ellipsis. Truncation slices at the exact
// rune limit, not a word boundary.
func Clamp(s string, max int) string {
	normalized := strings.Join(strings.Fields(s), " ")
	runes := []rune(normalized)
	if len(runes) <= max {
		return normalized
	}
	return string(runes[:max]) + "…"
}

// Build computes the summary for a conversation: title from the first user
// message, preview from the last assistant message (or the last message if
// no assistant message exists), created-at from the first message's
// timestamp or now.
func Build(messages []model.Message, conversationID string) model.ConversationSummary {
	title := "New chat"
	for _, m := range messages {
		if m.Role == model.RoleUser {
			if m.Content != "" {
				title = m.Content
			}
			break
		}
	}

	var preview string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			preview = messages[i].Content
			break
		}
	}
	if preview == "" && len(messages) > 0 {
		preview = messages[len(messages)-1].Content
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	if len(messages) > 0 && messages[0].CreatedAt != "" {
		createdAt = messages[0].CreatedAt
	}

	return model.ConversationSummary{
		ID:                 conversationID,
		Title:              Clamp(title, titleLimit),
		LastMessagePreview: Clamp(preview, previewLimit),
		CreatedAt:          createdAt,
	}
}

// Upsert removes any existing summary with next's id and prepends next, so
// the list stays deduplicated and most-recently-active first.
func Upsert(list []model.ConversationSummary, next model.ConversationSummary) []model.ConversationSummary {
	out := make([]model.ConversationSummary, 0, len(list)+1)
	out = append(out, next)
	for _, s := range list {
		if s.ID != next.ID {
			out = append(out, s)
		}
	}
	return out
}
