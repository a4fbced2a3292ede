package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMapDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.StoryModel)
	assert.Equal(t, "dall-e-3", cfg.ImageModel)
	assert.Equal(t, "alloy", cfg.TTSVoice)
	assert.Equal(t, 8*time.Second, cfg.RotationInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.WordDuration)
	assert.Equal(t, 3, cfg.MaxServerRetries)
	assert.True(t, cfg.ImagePlaceholder)
	assert.Equal(t, "binary", cfg.SpeechDelivery)
}

func TestFromMapOverrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"OPENAI_API_KEY":    "sk-test",
		"STORY_TIMEOUT":     "15s",
		"SPEECH_DELIVERY":   "base64",
		"IMAGE_PLACEHOLDER": "false",
	})
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.StoryTimeout)
	assert.Equal(t, "base64", cfg.SpeechDelivery)
	assert.False(t, cfg.ImagePlaceholder)
	assert.Equal(t, map[string]bool{
		"openai":    true,
		"replicate": false,
		"deepgram":  false,
		"gollm":     false,
	}, cfg.KeysConfigured())
}

func TestFromMapRejectsBadDelivery(t *testing.T) {
	_, err := FromMap(map[string]string{"SPEECH_DELIVERY": "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPEECH_DELIVERY")
}

func TestEnvironMap(t *testing.T) {
	m := environMap([]string{"A=1", "B=x=y", "broken"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, m)
}
