package pkg

import (
	"github.com/andrejsstepanovs/fairytale/pkg/ai"
	"github.com/andrejsstepanovs/fairytale/pkg/config"
	"github.com/andrejsstepanovs/fairytale/pkg/image"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/tts"
	"github.com/andrejsstepanovs/fairytale/pkg/web"
)

// NewGateways wires every provider the config knows about, primary first.
// Providers without credentials stay registered and report themselves
// unavailable through their health check.
func NewGateways(cfg config.Config) web.Gateways {
	log := logging.L()

	story := ai.NewGateway(
		[]ai.Provider{
			ai.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.StoryModel),
			ai.NewGollm(cfg.GollmProvider, cfg.GollmModel, cfg.GollmAPIKey),
		},
		ai.WithTimeout(cfg.StoryTimeout),
		ai.WithHealthTimeout(cfg.HealthTimeout),
		ai.WithTemperature(cfg.StoryTemperature),
		ai.WithTokenCounter(ai.TiktokenCounter),
		ai.WithLogger(log),
	)

	images := image.NewGateway(
		[]image.Provider{
			image.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.ImageModel, cfg.ImageFallbackModel),
			image.NewReplicate(cfg.ReplicateToken, cfg.ReplicateBaseURL, cfg.ReplicateModelVersion),
		},
		image.WithTimeout(cfg.ImageTimeout),
		image.WithHealthTimeout(cfg.HealthTimeout),
		image.WithLogger(log),
	)

	voices := []tts.Provider{
		tts.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.TTSModel),
		tts.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramModel),
	}
	if cfg.SpeechRemote != "" {
		voices = append(voices, tts.NewRemote(cfg.SpeechRemote))
	}
	speech := tts.NewGateway(
		voices,
		tts.WithTimeout(cfg.SpeechTimeout),
		tts.WithHealthTimeout(cfg.HealthTimeout),
		tts.WithWordDuration(cfg.WordDuration),
		tts.WithLogger(log),
	)

	return web.Gateways{Story: story, Images: images, Speech: speech}
}
