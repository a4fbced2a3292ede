// Package tts narrates stories through interchangeable speech providers.
package tts

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
	"github.com/andrejsstepanovs/fairytale/pkg/utils"
)

type Request struct {
	Text     string `json:"text" validate:"required"`
	Voice    string `json:"voice,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Audio is a complete narration. Duration is measured from the mp3 frames
// when possible and estimated from the word count otherwise.
type Audio struct {
	Data     []byte
	MIME     string
	Duration time.Duration
	Provider string
}

// Provider is one speech backend. Synthesize returns encoded audio.
type Provider interface {
	Name() string
	Health(ctx context.Context) error
	Synthesize(ctx context.Context, text string, voice story.Voice) ([]byte, error)
}

type Gateway struct {
	providers     []Provider
	timeout       time.Duration
	healthTimeout time.Duration
	wordDuration  time.Duration
	logger        *slog.Logger
}

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

func WithHealthTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.healthTimeout = d }
}

func WithWordDuration(d time.Duration) Option {
	return func(g *Gateway) { g.wordDuration = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logging.Or(l, "tts.gateway") }
}

func NewGateway(providers []Provider, opts ...Option) *Gateway {
	g := &Gateway{
		providers:     providers,
		timeout:       60 * time.Second,
		healthTimeout: 5 * time.Second,
		wordDuration:  250 * time.Millisecond,
		logger:        logging.Component("tts.gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Providers() []Provider {
	return g.providers
}

// Prepare cleans the text for narration and enforces the length limit.
func Prepare(text string) string {
	return Truncate(story.RemoveEmojis(text))
}

// Call shapes req and describes it for fallback.Run. Every attempt speaks
// the same prepared text.
func (g *Gateway) Call(req Request, onRetry func(fallback.RetryEvent)) (fallback.Call[Audio], error) {
	voice, err := story.ParseVoice(req.Voice)
	if err != nil {
		return fallback.Call[Audio]{}, apierr.Wrap(apierr.ValidationError, "speech", err)
	}
	text := Prepare(req.Text)
	if strings.TrimSpace(text) == "" {
		return fallback.Call[Audio]{}, apierr.New(apierr.ValidationError, "speech", "text is empty")
	}

	providers := ordered(g.providers, req.Provider)
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}

	return fallback.Call[Audio]{
		Capability: fallback.CapabilitySpeech,
		Providers:  names,
		Do: func(ctx context.Context, index int) (Audio, error) {
			return g.attempt(ctx, providers[index], text, voice)
		},
		Probe: func(ctx context.Context, index int) error {
			ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
			defer cancel()
			return providers[index].Health(ctx)
		},
		OnRetry: onRetry,
	}, nil
}

func (g *Gateway) Generate(ctx context.Context, runner *fallback.Runner, req Request, onRetry func(fallback.RetryEvent)) (Audio, error) {
	call, err := g.Call(req, onRetry)
	if err != nil {
		return Audio{}, err
	}
	res, err := fallback.Run(ctx, runner, call)
	if err != nil {
		return Audio{}, err
	}
	return res.Value, nil
}

func (g *Gateway) attempt(ctx context.Context, p Provider, text string, voice story.Voice) (Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := p.Synthesize(ctx, text, voice)
	if err != nil {
		return Audio{}, fmt.Errorf("%s: %w", p.Name(), err)
	}

	mime, err := Sniff(data)
	if err != nil {
		return Audio{}, apierr.Wrap(apierr.Unknown, p.Name(), err)
	}

	duration, err := Duration(data)
	if err != nil || duration <= 0 {
		duration = utils.EstimateDuration(text, g.wordDuration)
	}

	g.logger.Debug("speech generated", "provider", p.Name(), "bytes", len(data), "duration", duration)
	return Audio{Data: data, MIME: mime, Duration: duration, Provider: p.Name()}, nil
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
