// Package ai generates story text through chat completion providers.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
)

type Request struct {
	Messages    []story.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Provider    string          `json:"provider,omitempty"`
}

// Provider is one chat backend. Stream reports text increments through
// onChunk and returns the whole text.
type Provider interface {
	Name() string
	Health(ctx context.Context) error
	Stream(ctx context.Context, req Request, onChunk func(string)) (string, error)
}

type Gateway struct {
	providers     []Provider
	timeout       time.Duration
	healthTimeout time.Duration
	temperature   float32
	countTokens   func(string) int
	logger        *slog.Logger
}

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

func WithHealthTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.healthTimeout = d }
}

func WithTemperature(t float32) Option {
	return func(g *Gateway) { g.temperature = t }
}

// WithTokenCounter enables prompt token logging.
func WithTokenCounter(count func(string) int) Option {
	return func(g *Gateway) { g.countTokens = count }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logging.Or(l, "ai.gateway") }
}

func NewGateway(providers []Provider, opts ...Option) *Gateway {
	g := &Gateway{
		providers:     providers,
		timeout:       60 * time.Second,
		healthTimeout: 5 * time.Second,
		temperature:   0.8,
		logger:        logging.Component("ai.gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Providers() []Provider {
	return g.providers
}

// RequestFor builds the story request for the user's form values.
func RequestFor(params story.Params) Request {
	params = params.WithDefaults()
	return Request{Messages: params.Messages(), MaxTokens: params.Length.MaxTokens()}
}

// Call validates req and describes it for fallback.Run. Once text has been
// forwarded to onChunk a failing attempt is not retried, so a reader never
// sees the story twice.
func (g *Gateway) Call(req Request, onChunk func(string), onRetry func(fallback.RetryEvent)) (fallback.Call[string], error) {
	if err := story.ValidateMessages(req.Messages); err != nil {
		return fallback.Call[string]{}, apierr.Wrap(apierr.ValidationError, "story", err)
	}
	if req.Temperature == 0 {
		req.Temperature = g.temperature
	}

	if g.countTokens != nil {
		tokens := g.countTokens(Flatten(req.Messages))
		g.logger.Info("story prompt", "prompt_tokens", tokens, "max_tokens", req.MaxTokens)
	}

	providers := ordered(g.providers, req.Provider)
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}

	return fallback.Call[string]{
		Capability: fallback.CapabilityStory,
		Providers:  names,
		Do: func(ctx context.Context, index int) (string, error) {
			return g.attempt(ctx, providers[index], req, onChunk)
		},
		Probe: func(ctx context.Context, index int) error {
			ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
			defer cancel()
			return providers[index].Health(ctx)
		},
		OnRetry: onRetry,
	}, nil
}

// Generate runs req with the fallback policy of runner and returns the story.
func (g *Gateway) Generate(ctx context.Context, runner *fallback.Runner, req Request, onChunk func(string), onRetry func(fallback.RetryEvent)) (string, error) {
	call, err := g.Call(req, onChunk, onRetry)
	if err != nil {
		return "", err
	}
	res, err := fallback.Run(ctx, runner, call)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (g *Gateway) attempt(ctx context.Context, p Provider, req Request, onChunk func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	forwarded := false
	forward := func(chunk string) {
		forwarded = true
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	start := time.Now()
	text, err := p.Stream(ctx, req, forward)
	if err != nil {
		err = fmt.Errorf("%s: %w", p.Name(), err)
		if forwarded {
			return "", fallback.Permanent(err)
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", apierr.Wrap(apierr.ValidationError, p.Name(), apierr.ErrEmptyResult)
	}

	g.logger.Info("story generated", "provider", p.Name(), "runes", len([]rune(text)), "took", time.Since(start))
	return text, nil
}

func ordered(providers []Provider, preferred string) []Provider {
	if preferred == "" {
		return providers
	}
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Name() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range providers {
		if p.Name() != preferred {
			out = append(out, p)
		}
	}
	return out
}
