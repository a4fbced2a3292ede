package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/sashabaranov/go-openai"
)

// OpenAI streams chat completions.
type OpenAI struct {
	client *openai.Client
	apiKey string
	model  string
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), apiKey: apiKey, model: model}
}

func (o *OpenAI) Name() string {
	return "openai"
}

func (o *OpenAI) Health(ctx context.Context) error {
	if o.apiKey == "" {
		return apierr.ErrNoAPIKey
	}
	return nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	if o.apiKey == "" {
		return "", apierr.ErrNoAPIKey
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("create completion stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), fmt.Errorf("receive completion chunk: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		text.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	return text.String(), nil
}
