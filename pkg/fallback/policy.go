// Package fallback decides what happens after a provider call fails and runs
// calls across an ordered provider list according to those decisions.
package fallback

import (
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/config"
)

type Capability string

const (
	CapabilityStory  Capability = "story"
	CapabilityImage  Capability = "image"
	CapabilitySpeech Capability = "speech"
)

type Action int

const (
	// Retry the same provider after Delay.
	Retry Action = iota
	// Switch to the next provider in the priority list.
	Switch
	// Surface the failure to the user without retrying.
	Surface
	// Placeholder ends the run with a placeholder artifact.
	Placeholder
	// Fail ends the run; every provider is exhausted.
	Fail
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Switch:
		return "switch"
	case Surface:
		return "surface"
	case Placeholder:
		return "placeholder"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy holds the retry limits. It keeps no per-session state.
type Policy struct {
	MaxServerRetries    int
	MaxRateLimitRetries int
	UnknownRetries      int // not applied to story generation
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	ServerDelay         time.Duration
	ImagePlaceholder    bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxServerRetries:    3,
		MaxRateLimitRetries: 5,
		UnknownRetries:      1,
		BaseDelay:           2 * time.Second,
		MaxDelay:            16 * time.Second,
		ServerDelay:         3 * time.Second,
		ImagePlaceholder:    true,
	}
}

func PolicyFromConfig(cfg config.Config) Policy {
	p := DefaultPolicy()
	p.MaxServerRetries = cfg.MaxServerRetries
	p.MaxRateLimitRetries = cfg.MaxRateLimitRetries
	p.BaseDelay = cfg.RetryBaseDelay
	p.MaxDelay = cfg.RetryMaxDelay
	p.ServerDelay = cfg.StoryRetryDelay
	p.ImagePlaceholder = cfg.ImagePlaceholder
	return p
}

// Decide picks the next step after a failure. failures counts consecutive
// failures of the current provider, including this one; providerIndex is the
// position of that provider in a list of providerCount entries.
func (p Policy) Decide(capability Capability, rec apierr.Record, providerIndex, providerCount, failures int) Decision {
	switch rec.Class {
	case apierr.ValidationError:
		return Decision{Action: Surface}
	case apierr.ApiUnavailable:
		return p.next(capability, providerIndex, providerCount)
	case apierr.ServerError:
		if failures < p.MaxServerRetries {
			return Decision{Action: Retry, Delay: p.ServerDelay * time.Duration(failures)}
		}
	case apierr.RateLimited:
		if failures <= p.MaxRateLimitRetries {
			return Decision{Action: Retry, Delay: p.backoff(failures)}
		}
	default:
		if capability != CapabilityStory && failures <= p.UnknownRetries {
			return Decision{Action: Retry, Delay: p.BaseDelay}
		}
	}
	return p.next(capability, providerIndex, providerCount)
}

// Exhausted is the decision once no provider is left to try.
func (p Policy) Exhausted(capability Capability) Decision {
	if capability == CapabilityImage && p.ImagePlaceholder {
		return Decision{Action: Placeholder}
	}
	return Decision{Action: Fail}
}

func (p Policy) next(capability Capability, providerIndex, providerCount int) Decision {
	if providerIndex+1 < providerCount {
		return Decision{Action: Switch}
	}
	return p.Exhausted(capability)
}

// backoff is BaseDelay * 2^(failures-1), capped at MaxDelay.
func (p Policy) backoff(failures int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
