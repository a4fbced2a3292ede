// Package image generates story illustrations through interchangeable providers.
package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/go-playground/validator/v10"
)

// ErrNoImageURL is returned when a provider answers without an image URL.
var ErrNoImageURL = errors.New("image response has no url")

type Request struct {
	Prompt   string `json:"prompt" validate:"required,max=4000"`
	Size     string `json:"size,omitempty" validate:"omitempty,oneof=1024x1024 1792x1024 1024x1792"`
	Quality  string `json:"quality,omitempty" validate:"omitempty,oneof=standard hd"`
	Style    string `json:"style,omitempty" validate:"omitempty,oneof=vivid natural"`
	Provider string `json:"provider,omitempty"`
}

type Result struct {
	URL         string `json:"imageUrl"`
	Provider    string `json:"provider"`
	Prompt      string `json:"prompt"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// Provider is one image backend. Generate returns the URL of a single image.
type Provider interface {
	Name() string
	Health(ctx context.Context) error
	Generate(ctx context.Context, req Request) (string, error)
}

// Gateway shapes requests and turns them into fallback calls over its providers.
type Gateway struct {
	providers     []Provider
	timeout       time.Duration
	healthTimeout time.Duration
	logger        *slog.Logger
	validate      *validator.Validate
}

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

func WithHealthTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.healthTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logging.Or(l, "image.gateway") }
}

func NewGateway(providers []Provider, opts ...Option) *Gateway {
	g := &Gateway{
		providers:     providers,
		timeout:       60 * time.Second,
		healthTimeout: 5 * time.Second,
		logger:        logging.Component("image.gateway"),
		validate:      validator.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Providers() []Provider {
	return g.providers
}

// Call validates and enriches req and describes the request for fallback.Run.
// Every attempt reuses the same enriched prompt.
func (g *Gateway) Call(req Request, onRetry func(fallback.RetryEvent)) (fallback.Call[Result], error) {
	if err := g.validate.Struct(req); err != nil {
		return fallback.Call[Result]{}, apierr.Wrap(apierr.ValidationError, "image", err)
	}

	raw := req.Prompt
	req.Prompt = Enrich(req.Prompt)
	providers := ordered(g.providers, req.Provider)

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}

	return fallback.Call[Result]{
		Capability: fallback.CapabilityImage,
		Providers:  names,
		Do: func(ctx context.Context, index int) (Result, error) {
			url, err := g.attempt(ctx, providers[index], req)
			if err != nil {
				return Result{}, err
			}
			return Result{URL: url, Provider: providers[index].Name(), Prompt: req.Prompt}, nil
		},
		Probe: func(ctx context.Context, index int) error {
			ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
			defer cancel()
			return providers[index].Health(ctx)
		},
		Placeholder: func() Result {
			return Result{URL: PlaceholderURL(raw), Provider: "placeholder", Prompt: req.Prompt, Placeholder: true}
		},
		OnRetry: onRetry,
	}, nil
}

// Generate runs req with the fallback policy of runner.
func (g *Gateway) Generate(ctx context.Context, runner *fallback.Runner, req Request, onRetry func(fallback.RetryEvent)) (Result, error) {
	call, err := g.Call(req, onRetry)
	if err != nil {
		return Result{}, err
	}
	res, err := fallback.Run(ctx, runner, call)
	if err != nil {
		return Result{}, err
	}
	res.Value.Placeholder = res.Placeholder
	return res.Value, nil
}

func (g *Gateway) attempt(ctx context.Context, p Provider, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	url, err := p.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Name(), err)
	}
	if strings.TrimSpace(url) == "" {
		return "", apierr.Wrap(apierr.Unknown, p.Name(), ErrNoImageURL)
	}

	g.logger.Debug("image generated", "provider", p.Name(), "took", time.Since(start))
	return url, nil
}

// ordered moves the preferred provider to the front, keeping the rest in order.
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
