package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/eloquent-ai/operator-client/internal/model"
)

// Responder generates the assistant reply for a turn, invoking onToken for
// each streamed fragment.
type Responder interface {
	Respond(ctx context.Context, history []model.Message, prompt string, onToken func(string) error) (string, error)
}

// NewResponder returns the OpenAI responder when an API key is configured,
// the canned one otherwise.
func NewResponder(openAIKey string) Responder {
	if openAIKey != "" {
		return &OpenAIResponder{client: openai.NewClient(openAIKey)}
	}
	return &CannedResponder{}
}

// CannedResponder produces a deterministic reply, streamed in small
// chunks so clients exercise their delta handling.
type CannedResponder struct{}

// Respond implements Responder.
func (r *CannedResponder) Respond(ctx context.Context, history []model.Message, prompt string, onToken func(string) error) (string, error) {
	reply := fmt.Sprintf("You asked: %q. This is a canned response from the local stub backend.", prompt)

	const chunkSize = 12
	runes := []rune(reply)
	for i := 0; i < len(runes); i += chunkSize {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := onToken(string(runes[i:end])); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// OpenAIResponder streams the reply from the OpenAI chat completion API.
type OpenAIResponder struct {
	client *openai.Client
}

// Respond implements Responder.
func (r *OpenAIResponder) Respond(ctx context.Context, history []model.Message, prompt string, onToken func(string) error) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:     openai.GPT4o,
		Messages:  messages,
		MaxTokens: 4096,
		Stream:    true,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var content strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if err := onToken(delta); err != nil {
			return "", err
		}
	}
	return content.String(), nil
}

// guardrailTriggers are prompt substrings that make the stub emit a
// guardrails terminal event instead of completing normally.
var guardrailTriggers = []string{"credit card number", "social security"}

func hitsGuardrails(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, trigger := range guardrailTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}
