package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(health *HealthCache) (*Runner, *[]time.Duration) {
	r := NewRunner(DefaultPolicy(), health, nil)
	slept := make([]time.Duration, 0)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestRunRetriesRateLimitThenSucceeds(t *testing.T) {
	r, slept := testRunner(nil)

	calls := 0
	retries := 0
	res, err := Run(context.Background(), r, Call[string]{
		Capability: CapabilityStory,
		Providers:  []string{"openai"},
		Do: func(ctx context.Context, index int) (string, error) {
			calls++
			if calls <= 2 {
				return "", apierr.FromStatus("openai", 429, "slow down")
			}
			return "Жил-был кролик.", nil
		},
		OnRetry: func(e RetryEvent) {
			retries++
			assert.False(t, e.Switched)
			assert.Equal(t, apierr.RateLimited, e.Record.Class)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Жил-был кролик.", res.Value)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestRunSwitchesOnFourthAttempt(t *testing.T) {
	r, _ := testRunner(nil)

	var order []int
	res, err := Run(context.Background(), r, Call[string]{
		Capability: CapabilityImage,
		Providers:  []string{"openai", "replicate"},
		Do: func(ctx context.Context, index int) (string, error) {
			order = append(order, index)
			if index == 0 {
				return "", apierr.FromStatus("openai", 503, "down")
			}
			return "https://img/1.png", nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1}, order)
	assert.Equal(t, "replicate", res.Provider)
}

func TestRunPlaceholderWhenExhausted(t *testing.T) {
	r, _ := testRunner(nil)

	res, err := Run(context.Background(), r, Call[string]{
		Capability:  CapabilityImage,
		Providers:   []string{"openai"},
		Do:          func(ctx context.Context, index int) (string, error) { return "", apierr.New(apierr.ApiUnavailable, "openai", "no key") },
		Placeholder: func() string { return "https://placehold.co/x" },
	})

	require.NoError(t, err)
	assert.True(t, res.Placeholder)
	assert.Equal(t, "https://placehold.co/x", res.Value)
}

func TestRunStoryExhausted(t *testing.T) {
	r, _ := testRunner(nil)

	_, err := Run(context.Background(), r, Call[string]{
		Capability: CapabilityStory,
		Providers:  []string{"openai", "gollm"},
		Do: func(ctx context.Context, index int) (string, error) {
			return "", apierr.New(apierr.ApiUnavailable, "p", "offline")
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Errors, 2)
	assert.Equal(t, apierr.ApiUnavailable, apierr.Classify(err).Class)
}

func TestRunNoProviders(t *testing.T) {
	r, _ := testRunner(nil)

	_, err := Run(context.Background(), r, Call[string]{Capability: CapabilitySpeech})
	assert.ErrorIs(t, err, ErrNoProviders)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRunValidationSurfaces(t *testing.T) {
	r, _ := testRunner(nil)

	calls := 0
	_, err := Run(context.Background(), r, Call[string]{
		Capability: CapabilityStory,
		Providers:  []string{"openai", "gollm"},
		Do: func(ctx context.Context, index int) (string, error) {
			calls++
			return "", apierr.Wrap(apierr.ValidationError, "openai", apierr.ErrEmptyResult)
		},
	})

	assert.ErrorIs(t, err, apierr.ErrEmptyResult)
	assert.Equal(t, 1, calls)
}

func TestRunContextCancelledSkipsPlaceholder(t *testing.T) {
	r, _ := testRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Run(ctx, r, Call[string]{
		Capability: CapabilityImage,
		Providers:  []string{"openai"},
		Do: func(ctx context.Context, index int) (string, error) {
			cancel()
			return "", errors.New("aborted")
		},
		Placeholder: func() string { return "placeholder" },
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSkipsUnhealthyProvider(t *testing.T) {
	health := NewHealthCache(3)
	r, _ := testRunner(health)

	probes := 0
	call := Call[string]{
		Capability: CapabilitySpeech,
		Providers:  []string{"remote", "openai"},
		Probe: func(ctx context.Context, index int) error {
			probes++
			if index == 0 {
				return errors.New("connection refused")
			}
			return nil
		},
		Do: func(ctx context.Context, index int) (string, error) {
			require.Equal(t, 1, index)
			return "mp3", nil
		},
	}

	res, err := Run(context.Background(), r, call)
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)

	_, err = Run(context.Background(), r, call)
	require.NoError(t, err)
	assert.Equal(t, 2, probes, "health is cached between runs")

	entry, ok := health.Get(HealthKey(CapabilitySpeech, "remote"))
	require.True(t, ok)
	assert.False(t, entry.Available)
}

func TestRunPermanentErrorStops(t *testing.T) {
	r, _ := testRunner(nil)

	calls := 0
	_, err := Run(context.Background(), r, Call[string]{
		Capability: CapabilityStory,
		Providers:  []string{"openai", "gollm"},
		Do: func(ctx context.Context, index int) (string, error) {
			calls++
			return "", Permanent(apierr.FromStatus("openai", 500, "stream broke"))
		},
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apierr.ServerError, apierr.Classify(err).Class)
	assert.Nil(t, Permanent(nil))
}
