// Package llmclient implements the bridge's opaque chat contract (§6) with
// a two-provider failover, grounded in
// original_source/gateway/gateway/text/llm_client.py's primary/fallback
// selection: OpenAI first, Anthropic on failure.
package llmclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/fluentvoice/gateway/internal/logging"
)

// Message is one turn of chat history passed to Chat.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client is the bridge's chat contract: chat(messages, systemPrompt) -> string.
// Provider selection and failover are opaque to callers, per SPEC_FULL.md §6.
type Client interface {
	Chat(ctx context.Context, messages []Message, systemPrompt string) (string, error)
}

type failoverClient struct {
	openaiClient    openai.Client
	anthropicClient anthropic.Client
	openaiModel     string
	anthropicModel  string
	logger          logging.Logger
}

// New builds a Client that tries OpenAI first and falls back to Anthropic
// on any error, matching the original implementation's behavior.
func New(openaiKey, anthropicKey, openaiModel, anthropicModel string, logger logging.Logger) Client {
	return &failoverClient{
		openaiClient:    openai.NewClient(openaioption.WithAPIKey(openaiKey)),
		anthropicClient: anthropic.NewClient(anthropicoption.WithAPIKey(anthropicKey)),
		openaiModel:     openaiModel,
		anthropicModel:  anthropicModel,
		logger:          logger,
	}
}

func (c *failoverClient) Chat(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	out, err := c.chatOpenAI(ctx, messages, systemPrompt)
	if err == nil {
		return out, nil
	}
	c.logger.Warnw("openai chat failed, falling back to anthropic", "error", err)

	out, fallbackErr := c.chatAnthropic(ctx, messages, systemPrompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("both chat providers failed: openai=%v anthropic=%w", err, fallbackErr)
	}
	return out, nil
}

func (c *failoverClient) chatOpenAI(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.openaiModel,
		Messages: toOpenAIMessages(messages, systemPrompt),
	}
	resp, err := c.openaiClient.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		if m.Role == "assistant" {
			out = append(out, openai.AssistantMessage(m.Content))
		} else {
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *failoverClient) chatAnthropic(ctx context.Context, messages []Message, systemPrompt string) (string, error) {
	msgs := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := c.anthropicClient.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.anthropicModel),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  msgs,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic chat: empty response")
	}
	return resp.Content[0].Text, nil
}
