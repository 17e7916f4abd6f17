// Package llm provides the OpenAI chat-completions implementation of
// services.LLM, with both a blocking and a streaming entry point.
package llm

import (
	"context"
	"errors"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ErrNoChoices is returned when the API answers without any completion.
var ErrNoChoices = errors.New("llm returned no choices")

// Config configures the OpenAI chat client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// OpenAI implements services.LLM.
type OpenAI struct {
	client openai.Client
	cfg    Config
}

// NewOpenAI builds a chat client. An empty APIKey falls back to the
// OPENAI_API_KEY environment variable read by the SDK.
func NewOpenAI(cfg Config) *OpenAI {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

// GenerateResponse returns the first completion for messages.
func (l *OpenAI) GenerateResponse(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	resp, err := l.client.Chat.Completions.New(ctx, l.params(messages))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStreamingResponse streams content deltas. The request is only sent
// once iteration starts. The retrieved context is already part of messages,
// so it is not sent a second time.
func (l *OpenAI) GenerateStreamingResponse(ctx context.Context, messages []domain.ChatMessage, _ string) iter.Seq2[string, error] {
	params := l.params(messages)
	return func(yield func(string, error) bool) {
		stream := l.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}

func (l *OpenAI) params(messages []domain.ChatMessage) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Messages: toOpenAI(messages),
		Model:    openai.ChatModel(l.cfg.Model),
	}
	if l.cfg.Temperature > 0 {
		p.Temperature = openai.Float(l.cfg.Temperature)
	}
	if l.cfg.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(l.cfg.MaxTokens)
	}
	return p
}

func toOpenAI(messages []domain.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
