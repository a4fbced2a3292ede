// Package config turns viper settings and the process environment into a typed Config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

type Config struct {
	OpenAIKey        string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string  `env:"OPENAI_BASE_URL"`
	StoryModel       string  `env:"STORY_MODEL" envDefault:"gpt-4o"`
	StoryTemperature float32 `env:"STORY_TEMPERATURE" envDefault:"0.8"`

	GollmProvider string `env:"GOLLM_PROVIDER" envDefault:"anthropic"`
	GollmModel    string `env:"GOLLM_MODEL" envDefault:"claude-3-5-sonnet-latest"`
	GollmAPIKey   string `env:"GOLLM_API_KEY"`

	ImageModel         string `env:"IMAGE_MODEL" envDefault:"dall-e-3"`
	ImageFallbackModel string `env:"IMAGE_FALLBACK_MODEL" envDefault:"dall-e-2"`
	ImagePlaceholder   bool   `env:"IMAGE_PLACEHOLDER" envDefault:"true"`

	ReplicateToken        string `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL      string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com"`
	ReplicateModelVersion string `env:"REPLICATE_MODEL_VERSION" envDefault:"39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"`

	TTSModel       string `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSVoice       string `env:"TTS_VOICE" envDefault:"alloy"`
	DeepgramKey    string `env:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `env:"DEEPGRAM_MODEL" envDefault:"aura-asteria-en"`
	SpeechRemote   string `env:"SPEECH_REMOTE_URL"`
	SpeechDelivery string `env:"SPEECH_DELIVERY" envDefault:"binary"`

	StoryTimeout      time.Duration `env:"STORY_TIMEOUT" envDefault:"60s"`
	ImageTimeout      time.Duration `env:"IMAGE_TIMEOUT" envDefault:"60s"`
	SpeechTimeout     time.Duration `env:"SPEECH_TIMEOUT" envDefault:"60s"`
	HealthTimeout     time.Duration `env:"HEALTH_TIMEOUT" envDefault:"5s"`
	ImageStageTimeout time.Duration `env:"IMAGE_STAGE_TIMEOUT" envDefault:"3m"`

	RetryBaseDelay      time.Duration `env:"RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay       time.Duration `env:"RETRY_MAX_DELAY" envDefault:"16s"`
	StoryRetryDelay     time.Duration `env:"STORY_RETRY_DELAY" envDefault:"3s"`
	MaxServerRetries    int           `env:"MAX_SERVER_RETRIES" envDefault:"3"`
	MaxRateLimitRetries int           `env:"MAX_RATE_LIMIT_RETRIES" envDefault:"5"`
	HealthFailures      int           `env:"HEALTH_FAILURE_THRESHOLD" envDefault:"3"`

	RotationInterval time.Duration `env:"ROTATION_INTERVAL" envDefault:"8s"`
	WordDuration     time.Duration `env:"WORD_DURATION" envDefault:"250ms"`

	HTTPPort  string `env:"HTTP_PORT" envDefault:"8080"`
	StaticDir string `env:"STATIC_DIR" envDefault:"./web"`
	OutputDir string `env:"OUTPUT_DIR" envDefault:"."`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load decodes the configuration. Process environment wins over values read by viper.
func Load() (Config, error) {
	environment := environMap(os.Environ())
	for _, key := range viper.AllKeys() {
		name := strings.ToUpper(key)
		if _, ok := environment[name]; ok {
			continue
		}
		environment[name] = viper.GetString(key)
	}
	return FromMap(environment)
}

// FromMap decodes a Config from an explicit key/value set.
func FromMap(values map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: values}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env cannot express as types.
func (c Config) Validate() error {
	switch c.SpeechDelivery {
	case "binary", "base64":
	default:
		return fmt.Errorf("SPEECH_DELIVERY must be binary or base64, got %q", c.SpeechDelivery)
	}
	if c.MaxServerRetries < 1 {
		return fmt.Errorf("MAX_SERVER_RETRIES must be at least 1")
	}
	if c.RotationInterval <= 0 {
		return fmt.Errorf("ROTATION_INTERVAL must be positive")
	}
	return nil
}

// KeysConfigured reports which provider credentials are present.
func (c Config) KeysConfigured() map[string]bool {
	return map[string]bool{
		"openai":    c.OpenAIKey != "",
		"replicate": c.ReplicateToken != "",
		"deepgram":  c.DeepgramKey != "",
		"gollm":     c.GollmAPIKey != "",
	}
}

func environMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}
