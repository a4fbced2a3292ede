package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/teilomillet/gollm"
)

// Gollm answers with a single completion from any gollm backend. It is the
// secondary story provider.
type Gollm struct {
	client   gollm.LLM
	provider string
	err      error
}

func NewGollm(provider, model, apiKey string) *Gollm {
	g := &Gollm{provider: provider}
	if apiKey == "" {
		g.err = apierr.ErrNoAPIKey
		return g
	}

	conn, err := gollm.NewLLM(
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
		gollm.SetMaxRetries(1),
		gollm.SetRetryDelay(time.Second),
		gollm.SetLogLevel(gollm.LogLevelWarn),
		gollm.SetMaxTokens(4096),
	)
	if err != nil {
		g.err = apierr.Wrap(apierr.ApiUnavailable, "gollm", fmt.Errorf("create llm: %w", err))
		return g
	}
	g.client = conn
	return g
}

func (g *Gollm) Name() string {
	return "gollm"
}

func (g *Gollm) Health(ctx context.Context) error {
	return g.err
}

// Stream sends the transcript as one prompt and reports the answer as a
// single chunk.
func (g *Gollm) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	if g.err != nil {
		return "", g.err
	}

	text, err := g.client.Generate(ctx, gollm.NewPrompt(Flatten(req.Messages)))
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", g.provider, err)
	}
	if onChunk != nil && text != "" {
		onChunk(text)
	}
	return text, nil
}
