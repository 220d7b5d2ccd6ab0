package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloquent-ai/operator-client/internal/model"
)

func TestFlexID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"string", `"abc"`, "abc"},
		{"number", `7`, "7"},
		{"large number stays exact", `9007199254740993`, "9007199254740993"},
		{"null", `null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexID
			require.NoError(t, f.UnmarshalJSON([]byte(tt.in)))
			assert.Equal(t, tt.want, string(f))
		})
	}
}

func TestMapBackendMessage(t *testing.T) {
	t.Run("system messages are dropped", func(t *testing.T) {
		_, ok := MapBackendMessage(BackendMessage{ID: "1", Role: "system", Content: "prompt"})
		assert.False(t, ok)
	})

	t.Run("missing role defaults to assistant", func(t *testing.T) {
		m, ok := MapBackendMessage(BackendMessage{ID: "1", Content: "hi"})
		require.True(t, ok)
		assert.Equal(t, model.RoleAssistant, m.Role)
	})

	t.Run("missing id gets generated", func(t *testing.T) {
		m, ok := MapBackendMessage(BackendMessage{Role: "user", Content: "hi"})
		require.True(t, ok)
		assert.NotEmpty(t, m.ID)
	})
}

func TestDecodeConversationList(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"data.items", `{"data":{"items":[{"id":7,"short_name":"Trip"}]}}`},
		{"data.conversations", `{"data":{"conversations":[{"id":"7","short_name":"Trip"}]}}`},
		{"top-level items", `{"items":[{"id":7,"title":"Trip"}]}`},
		{"data as array", `{"data":[{"conversation_id":7,"short_name":"Trip"}]}`},
		{"bare array", `[{"id":"7","short_name":"Trip"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeConversationList([]byte(tt.body))
			require.Len(t, got, 1)
			assert.Equal(t, "7", got[0].ID)
			assert.Equal(t, "Trip", got[0].Title)
		})
	}

	t.Run("description preferred over preview", func(t *testing.T) {
		got := DecodeConversationList([]byte(`{"items":[{"id":"1","short_name":"t","description":"d","preview":"p"}]}`))
		require.Len(t, got, 1)
		assert.Equal(t, "d", got[0].LastMessagePreview)
	})

	t.Run("missing title synthesized from id", func(t *testing.T) {
		got := DecodeConversationList([]byte(`{"items":[{"id":"9"}]}`))
		require.Len(t, got, 1)
		assert.Equal(t, "Conversation 9", got[0].Title)
	})

	t.Run("undecodable degrades to empty", func(t *testing.T) {
		assert.Empty(t, DecodeConversationList([]byte("not json")))
	})
}

func TestDecodeMessageList(t *testing.T) {
	body := `{"data":{"messages":[
		{"id":1,"role":"system","content":"You are helpful."},
		{"id":2,"role":"user","content":"hi"},
		{"id":3,"role":"assistant","content":"hello"}
	]}}`
	got := DecodeMessageList([]byte(body))
	require.Len(t, got, 2)
	assert.Equal(t, model.RoleUser, got[0].Role)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, model.RoleAssistant, got[1].Role)

	t.Run("flat messages shape", func(t *testing.T) {
		got := DecodeMessageList([]byte(`{"messages":[{"id":"a","role":"user","content":"x"}]}`))
		require.Len(t, got, 1)
	})
}

func TestDecodeChatResponse(t *testing.T) {
	t.Run("enveloped", func(t *testing.T) {
		convID, msgs := DecodeChatResponse([]byte(`{"data":{"conversation_id":42,"messages":[{"id":"m","role":"assistant","content":"ok"}]}}`))
		assert.Equal(t, "42", convID)
		require.Len(t, msgs, 1)
	})

	t.Run("flat", func(t *testing.T) {
		convID, msgs := DecodeChatResponse([]byte(`{"conversation_id":"c1","messages":[{"id":"m","role":"user","content":"q"}]}`))
		assert.Equal(t, "c1", convID)
		require.Len(t, msgs, 1)
	})

	t.Run("undecodable", func(t *testing.T) {
		convID, msgs := DecodeChatResponse([]byte("nope"))
		assert.Empty(t, convID)
		assert.Nil(t, msgs)
	})
}

func TestDecodeSummarize(t *testing.T) {
	assert.Equal(t, "short", DecodeSummarize([]byte(`{"data":{"summary":"short"}}`)))
	assert.Equal(t, "flat", DecodeSummarize([]byte(`{"summary":"flat"}`)))
	assert.Empty(t, DecodeSummarize([]byte(`{}`)))
}

func TestExtractUser(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   string
		wantName string
		wantTok  string
	}{
		{"data.user", `{"data":{"access_token":"tok","user":{"id":5,"name":"Ada"}}}`, "5", "Ada", "tok"},
		{"data.user_id", `{"data":{"user_id":"u1","access_token":"tok"}}`, "u1", "", "tok"},
		{"top-level user", `{"user":{"id":"u2","name":"Bo"}}`, "u2", "Bo", ""},
		{"top-level user_id", `{"user_id":7,"access_token":"t"}`, "7", "", "t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := ExtractUser([]byte(tt.body))
			require.True(t, ok)
			assert.Equal(t, tt.wantID, u.ID)
			assert.Equal(t, tt.wantName, u.Name)
			assert.Equal(t, tt.wantTok, u.Token)
		})
	}

	t.Run("missing id fails", func(t *testing.T) {
		_, ok := ExtractUser([]byte(`{"data":{"access_token":"tok"}}`))
		assert.False(t, ok)
	})
}

func TestExtractMessage(t *testing.T) {
	assert.Equal(t, "nested", ExtractMessage([]byte(`{"data":{"message":"nested"}}`), "fb"))
	assert.Equal(t, "flat", ExtractMessage([]byte(`{"message":"flat"}`), "fb"))
	assert.Equal(t, "fb", ExtractMessage([]byte(`{}`), "fb"))
	assert.Equal(t, "fb", ExtractMessage([]byte(`garbage`), "fb"))
}
