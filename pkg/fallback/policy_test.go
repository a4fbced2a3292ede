package fallback

import (
	"testing"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/stretchr/testify/assert"
)

func rec(class apierr.Class) apierr.Record {
	return apierr.Record{Class: class}
}

func TestDecideServerErrorSwitchesAfterThreeFailures(t *testing.T) {
	p := DefaultPolicy()

	for failures := 1; failures < 3; failures++ {
		d := p.Decide(CapabilityImage, rec(apierr.ServerError), 0, 2, failures)
		assert.Equal(t, Retry, d.Action, "failure %d", failures)
		assert.Equal(t, p.ServerDelay*time.Duration(failures), d.Delay)
	}

	d := p.Decide(CapabilityImage, rec(apierr.ServerError), 0, 2, 3)
	assert.Equal(t, Switch, d.Action)
}

func TestDecideTable(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name       string
		capability Capability
		class      apierr.Class
		index      int
		count      int
		failures   int
		want       Action
	}{
		{"unavailable switches", CapabilityStory, apierr.ApiUnavailable, 0, 2, 1, Switch},
		{"unavailable last story fails", CapabilityStory, apierr.ApiUnavailable, 1, 2, 1, Fail},
		{"unavailable last image placeholder", CapabilityImage, apierr.ApiUnavailable, 1, 2, 1, Placeholder},
		{"validation surfaces", CapabilityImage, apierr.ValidationError, 0, 3, 1, Surface},
		{"unknown retries once", CapabilitySpeech, apierr.Unknown, 0, 2, 1, Retry},
		{"unknown then switches", CapabilitySpeech, apierr.Unknown, 0, 2, 2, Switch},
		{"unknown last speech fails", CapabilitySpeech, apierr.Unknown, 0, 1, 2, Fail},
		{"unknown story switches at once", CapabilityStory, apierr.Unknown, 0, 2, 1, Switch},
		{"unknown last story fails at once", CapabilityStory, apierr.Unknown, 0, 1, 1, Fail},
		{"rate limited retries", CapabilityStory, apierr.RateLimited, 0, 1, 2, Retry},
		{"rate limited cap", CapabilityStory, apierr.RateLimited, 0, 2, 6, Switch},
		{"server exhausted story", CapabilityStory, apierr.ServerError, 0, 1, 3, Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.capability, rec(tt.class), tt.index, tt.count, tt.failures)
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestDecideRateLimitBackoff(t *testing.T) {
	p := Policy{MaxRateLimitRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, delay := range want {
		d := p.Decide(CapabilityStory, rec(apierr.RateLimited), 0, 1, i+1)
		assert.Equal(t, Retry, d.Action)
		assert.Equal(t, delay, d.Delay, "failure %d", i+1)
	}
}

func TestExhaustedWithoutPlaceholder(t *testing.T) {
	p := DefaultPolicy()
	p.ImagePlaceholder = false
	assert.Equal(t, Fail, p.Exhausted(CapabilityImage).Action)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "placeholder", Placeholder.String())
}
