package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client *openai.Client
	apiKey string
	model  string
	speed  float64
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		apiKey: apiKey,
		model:  model,
		speed:  0.9,
	}
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

func (o *OpenAI) Synthesize(ctx context.Context, text string, voice story.Voice) ([]byte, error) {
	if o.apiKey == "" {
		return nil, apierr.ErrNoAPIKey
	}

	request := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Voice:          openai.SpeechVoice(voice),
		Input:          text,
		Speed:          o.speed,
	}

	resp, err := o.client.CreateSpeech(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	buf, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return buf, nil
}
