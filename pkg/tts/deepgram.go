package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/rest"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

const deepgramChunkSize = 2000

// Deepgram speaks long texts chunk by chunk and joins the mp3 parts.
type Deepgram struct {
	apiKey string
	model  string
	logger *slog.Logger
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = "aura-asteria-en"
	}
	return &Deepgram{apiKey: apiKey, model: model, logger: logging.Component("tts.deepgram")}
}

func (d *Deepgram) Name() string {
	return "deepgram"
}

func (d *Deepgram) Health(ctx context.Context) error {
	if d.apiKey == "" {
		return apierr.ErrNoAPIKey
	}
	return nil
}

// Synthesize ignores voice; Deepgram voices are selected by model.
func (d *Deepgram) Synthesize(ctx context.Context, text string, voice story.Voice) ([]byte, error) {
	if d.apiKey == "" {
		return nil, apierr.ErrNoAPIKey
	}

	client.InitWithDefault()
	options := &interfaces.SpeakOptions{Model: d.model}
	dg := api.New(client.NewREST(d.apiKey, &interfaces.ClientOptions{}))

	dir, err := os.MkdirTemp("", "fairytale-deepgram-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	chunks := chunkText(text, deepgramChunkSize)
	parts := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		file := filepath.Join(dir, strconv.Itoa(i)+".mp3")
		if _, err := dg.ToSave(ctx, file, chunk, options); err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", i, err)
		}
		parts = append(parts, data)
	}
	if len(parts) == 0 {
		return nil, apierr.Wrap(apierr.ValidationError, d.Name(), apierr.ErrEmptyResult)
	}

	d.logger.Debug("joining chunks", "chunks", len(parts))
	return Join(parts)
}
