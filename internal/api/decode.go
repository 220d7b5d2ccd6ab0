package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/eloquent-ai/operator-client/internal/model"
)

// The backend predates a stable wire contract: the same concept shows up
// under several field names depending on the endpoint and version. The
// decoders below map every known shape into the canonical types, with an
// explicit default per missing field, so tolerance lives here and nowhere
// else.

// FlexID decodes a JSON id that may arrive as a string, a number, or null.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// BackendMessage is a message as any backend version serializes it.
type BackendMessage struct {
	ID        FlexID `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// MapBackendMessage converts a backend message to the canonical shape.
// System messages are dropped (second return false). A missing id gets a
// generated one; missing content degrades to empty.
func MapBackendMessage(raw BackendMessage) (model.Message, bool) {
	if raw.Role == string(model.RoleSystem) {
		return model.Message{}, false
	}
	role := model.Role(raw.Role)
	if role == "" {
		role = model.RoleAssistant
	}
	id := string(raw.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return model.Message{
		ID:        id,
		Role:      role,
		Content:   raw.Content,
		CreatedAt: raw.CreatedAt,
	}, true
}

// MapBackendMessages converts and filters a backend message list.
func MapBackendMessages(raw []BackendMessage) []model.Message {
	out := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		if m, ok := MapBackendMessage(r); ok {
			out = append(out, m)
		}
	}
	return out
}

type backendConversation struct {
	ID             FlexID `json:"id"`
	ConversationID FlexID `json:"conversation_id"`
	ShortName      string `json:"short_name"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Preview        string `json:"preview"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type conversationListEnvelope struct {
	Items []backendConversation `json:"items"`
	Data  json.RawMessage       `json:"data"`
}

type conversationListData struct {
	Conversations []backendConversation `json:"conversations"`
	Items         []backendConversation `json:"items"`
}

// DecodeConversationList maps any of the list response shapes
// ({data:{conversations}}, {data:{items}}, {items}, {data:[...]}, or a
// bare array) to summaries. Undecodable input degrades to an empty list.
func DecodeConversationList(body []byte) []model.ConversationSummary {
	items := decodeConversationItems(body)
	out := make([]model.ConversationSummary, 0, len(items))
	for _, c := range items {
		id := string(c.ID)
		if id == "" {
			id = string(c.ConversationID)
		}
		title := c.ShortName
		if title == "" {
			title = c.Title
		}
		if title == "" {
			title = fmt.Sprintf("Conversation %s", id)
		}
		preview := c.Description
		if preview == "" {
			preview = c.Preview
		}
		createdAt := c.CreatedAt
		if createdAt == "" {
			createdAt = c.UpdatedAt
		}
		out = append(out, model.ConversationSummary{
			ID:                 id,
			Title:              title,
			LastMessagePreview: preview,
			CreatedAt:          createdAt,
		})
	}
	return out
}

func decodeConversationItems(body []byte) []backendConversation {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []backendConversation
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return items
		}
		return nil
	}

	var env conversationListEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if len(env.Data) > 0 {
		data := bytes.TrimSpace(env.Data)
		if len(data) > 0 && data[0] == '[' {
			var items []backendConversation
			if err := json.Unmarshal(data, &items); err == nil {
				return items
			}
		} else {
			var inner conversationListData
			if err := json.Unmarshal(data, &inner); err == nil {
				if len(inner.Conversations) > 0 {
					return inner.Conversations
				}
				if len(inner.Items) > 0 {
					return inner.Items
				}
			}
		}
	}
	return env.Items
}

type messagesEnvelope struct {
	Messages []BackendMessage `json:"messages"`
	Data     *messagesData    `json:"data"`
}

type messagesData struct {
	Messages []BackendMessage `json:"messages"`
}

// DecodeMessageList maps {data:{messages}} or {messages} to canonical
// messages, filtering system entries.
func DecodeMessageList(body []byte) []model.Message {
	var env messagesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	raw := env.Messages
	if env.Data != nil && len(env.Data.Messages) > 0 {
		raw = env.Data.Messages
	}
	return MapBackendMessages(raw)
}

type chatResponseEnvelope struct {
	ConversationID FlexID             `json:"conversation_id"`
	Messages       []BackendMessage   `json:"messages"`
	Data           *chatResponseInner `json:"data"`
}

type chatResponseInner struct {
	ConversationID FlexID           `json:"conversation_id"`
	Messages       []BackendMessage `json:"messages"`
}

// DecodeChatResponse maps a chat-turn result ({data:{conversation_id,
// messages}} or flat) to the resolved conversation id and message list.
func DecodeChatResponse(body []byte) (string, []model.Message) {
	var env chatResponseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil
	}
	convID := string(env.ConversationID)
	raw := env.Messages
	if env.Data != nil {
		if env.Data.ConversationID != "" {
			convID = string(env.Data.ConversationID)
		}
		if len(env.Data.Messages) > 0 {
			raw = env.Data.Messages
		}
	}
	return convID, MapBackendMessages(raw)
}

type summarizeEnvelope struct {
	Summary string `json:"summary"`
	Data    *struct {
		Summary string `json:"summary"`
	} `json:"data"`
}

// DecodeSummarize extracts the summary text, defaulting to empty.
func DecodeSummarize(body []byte) string {
	var env summarizeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Data != nil && env.Data.Summary != "" {
		return env.Data.Summary
	}
	return env.Summary
}

type backendUser struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

type authEnvelope struct {
	UserID  FlexID       `json:"user_id"`
	User    *backendUser `json:"user"`
	Message string       `json:"message"`
	Data    *struct {
		AccessToken string       `json:"access_token"`
		UserID      FlexID       `json:"user_id"`
		User        *backendUser `json:"user"`
		Message     string       `json:"message"`
	} `json:"data"`
	AccessToken string `json:"access_token"`
}

// AuthUser is the canonical auth response payload.
type AuthUser struct {
	ID    string
	Name  string
	Token string
}

// ExtractUser pulls the user identity out of any auth response shape
// (data.user.id, data.user_id, user.id, or user_id; token from
// data.access_token or access_token). A missing id returns ok=false.
func ExtractUser(body []byte) (AuthUser, bool) {
	var env authEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return AuthUser{}, false
	}

	var u AuthUser
	if env.Data != nil {
		if env.Data.User != nil {
			u.ID = string(env.Data.User.ID)
			u.Name = env.Data.User.Name
		}
		if u.ID == "" {
			u.ID = string(env.Data.UserID)
		}
		u.Token = env.Data.AccessToken
	}
	if u.ID == "" && env.User != nil {
		u.ID = string(env.User.ID)
		if u.Name == "" {
			u.Name = env.User.Name
		}
	}
	if u.ID == "" {
		u.ID = string(env.UserID)
	}
	if u.Token == "" {
		u.Token = env.AccessToken
	}
	return u, u.ID != ""
}

// ExtractMessage pulls a human-readable message (data.message or message)
// out of an error response body, falling back when absent.
func ExtractMessage(body []byte, fallback string) string {
	var env authEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fallback
	}
	if env.Data != nil && env.Data.Message != "" {
		return env.Data.Message
	}
	if env.Message != "" {
		return env.Message
	}
	return fallback
}
