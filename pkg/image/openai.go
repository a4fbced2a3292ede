package image

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/sashabaranov/go-openai"
)

const dallE2MaxPrompt = 1000

// OpenAI generates images with the DALL·E models, trying each configured
// model in order.
type OpenAI struct {
	client *openai.Client
	apiKey string
	models []string
	logger *slog.Logger
}

func NewOpenAI(apiKey, baseURL string, models ...string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if len(models) == 0 {
		models = []string{openai.CreateImageModelDallE3, openai.CreateImageModelDallE2}
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		apiKey: apiKey,
		models: models,
		logger: logging.Component("image.openai"),
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

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	if o.apiKey == "" {
		return "", apierr.ErrNoAPIKey
	}

	var lastErr error
	for _, model := range o.models {
		url, err := o.generate(ctx, model, req)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if apierr.Classify(err).Class == apierr.RateLimited {
			return "", err
		}
		o.logger.Warn("image model failed", "model", model, "error", err)
	}
	return "", lastErr
}

func (o *OpenAI) generate(ctx context.Context, model string, req Request) (string, error) {
	request := openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           req.Size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}

	if model == openai.CreateImageModelDallE2 {
		request.Size = openai.CreateImageSize1024x1024
		request.Prompt = truncateRunes(req.Prompt, dallE2MaxPrompt)
	} else {
		if request.Size == "" {
			request.Size = openai.CreateImageSize1024x1024
		}
		request.Quality = req.Quality
		request.Style = req.Style
		if request.Style == "" {
			request.Style = openai.CreateImageStyleVivid
		}
	}

	resp, err := o.client.CreateImage(ctx, request)
	if err != nil {
		return "", fmt.Errorf("create image with %s: %w", model, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", apierr.Wrap(apierr.Unknown, "openai", ErrNoImageURL)
	}
	return resp.Data[0].URL, nil
}
