package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
)

var (
	// ErrExhausted is matched by every ExhaustedError.
	ErrExhausted = errors.New("all providers failed")

	// ErrNoProviders is recorded when a capability has no provider configured.
	ErrNoProviders = errors.New("no provider configured")
)

// ExhaustedError aggregates the failures of a run that ran out of providers.
type ExhaustedError struct {
	Capability Capability
	Errors     []error
}

func (e *ExhaustedError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%s: %v", e.Capability, ErrExhausted)
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: %v", e.Capability, e.Errors[0])
	}
	return fmt.Sprintf("%s: all providers failed after %d attempts, last error: %v",
		e.Capability, len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error so classification follows the final failure.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Run returns it without retrying or switching.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryEvent reports an automatic retry of the same stage, either on the same
// provider or on the next one.
type RetryEvent struct {
	Capability Capability
	Provider   string
	Failures   int
	Switched   bool
	Delay      time.Duration
	Record     apierr.Record
}

// Call describes one request run across an ordered provider list.
type Call[T any] struct {
	Capability Capability
	Providers  []string

	// Do performs the request against Providers[index].
	Do func(ctx context.Context, index int) (T, error)

	// Probe is the optional pre-flight check of Providers[index].
	Probe func(ctx context.Context, index int) error

	// Placeholder builds the artifact returned when the policy falls back to it.
	Placeholder func() T

	OnRetry func(RetryEvent)
}

type Result[T any] struct {
	Value       T
	Provider    string
	Attempts    int
	Placeholder bool
}

// Runner applies a Policy. Health may be nil.
type Runner struct {
	Policy Policy
	Health *HealthCache
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRunner(policy Policy, health *HealthCache, logger *slog.Logger) *Runner {
	return &Runner{
		Policy: policy,
		Health: health,
		logger: logging.Or(logger, "fallback.runner"),
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes call until a provider succeeds or the policy gives up. When
// ctx ends the context error is returned as is, without a placeholder.
func Run[T any](ctx context.Context, r *Runner, call Call[T]) (Result[T], error) {
	errs := make([]error, 0, len(call.Providers))
	attempts := 0

	terminal := func(decision Decision) (Result[T], error) {
		if decision.Action == Placeholder && call.Placeholder != nil {
			r.logger.Info("providers exhausted, using placeholder", "capability", call.Capability, "attempts", attempts)
			return Result[T]{Value: call.Placeholder(), Provider: "placeholder", Attempts: attempts, Placeholder: true}, nil
		}
		if len(errs) == 0 {
			errs = append(errs, apierr.Wrap(apierr.ApiUnavailable, string(call.Capability), ErrNoProviders))
		}
		exhausted := &ExhaustedError{Capability: call.Capability, Errors: errs}
		r.logger.Error("providers exhausted", "capability", call.Capability, "attempts", attempts, "error", exhausted)
		return Result[T]{}, exhausted
	}

	for index := 0; index < len(call.Providers); index++ {
		name := call.Providers[index]
		key := HealthKey(call.Capability, name)
		log := r.logger.With("capability", call.Capability, "provider", name)

		if err := r.probe(ctx, call.Probe, key, name, index); err != nil {
			if ctx.Err() != nil {
				return Result[T]{}, ctx.Err()
			}
			errs = append(errs, err)
			log.Info("provider unavailable, switching", "error", err)
			if index+1 < len(call.Providers) {
				call.notify(RetryEvent{Capability: call.Capability, Provider: name, Switched: true, Record: apierr.Classify(err)})
			}
			continue
		}

	attemptLoop:
		for failures := 1; ; failures++ {
			if err := ctx.Err(); err != nil {
				return Result[T]{}, err
			}

			attempts++
			value, err := call.Do(ctx, index)
			if err == nil {
				if r.Health != nil {
					r.Health.RecordSuccess(key)
				}
				if index > 0 {
					log.Info("fallback provider succeeded", "attempts", attempts)
				}
				return Result[T]{Value: value, Provider: name, Attempts: attempts}, nil
			}
			if ctx.Err() != nil {
				return Result[T]{}, ctx.Err()
			}

			errs = append(errs, err)
			if r.Health != nil {
				r.Health.RecordFailure(key)
			}

			var permanent *permanentError
			if errors.As(err, &permanent) {
				log.Warn("provider call failed permanently", "error", err)
				return Result[T]{}, err
			}

			rec := apierr.Classify(err)
			decision := r.Policy.Decide(call.Capability, rec, index, len(call.Providers), failures)
			log.Warn("provider call failed",
				"classification", rec.Class,
				"failures", failures,
				"action", decision.Action.String(),
				"error", err,
			)

			switch decision.Action {
			case Retry:
				call.notify(RetryEvent{Capability: call.Capability, Provider: name, Failures: failures, Delay: decision.Delay, Record: rec})
				if err := r.sleep(ctx, decision.Delay); err != nil {
					return Result[T]{}, err
				}
			case Switch:
				call.notify(RetryEvent{Capability: call.Capability, Provider: name, Failures: failures, Switched: true, Record: rec})
				break attemptLoop
			case Surface:
				return Result[T]{}, err
			default:
				return terminal(decision)
			}
		}
	}

	return terminal(r.Policy.Exhausted(call.Capability))
}

func (c Call[T]) notify(event RetryEvent) {
	if c.OnRetry != nil {
		c.OnRetry(event)
	}
}

// probe consults the health cache before a provider is used.
func (r *Runner) probe(ctx context.Context, probe func(ctx context.Context, index int) error, key, name string, index int) error {
	if probe == nil {
		return nil
	}
	check := func(ctx context.Context) error { return probe(ctx, index) }

	if r.Health == nil {
		if err := check(ctx); err != nil {
			return apierr.Wrap(apierr.ApiUnavailable, name, err)
		}
		return nil
	}

	health := r.Health.Check(ctx, key, check)
	if !health.Available {
		return &apierr.Error{Class: apierr.ApiUnavailable, Provider: name, Message: health.Error}
	}
	return nil
}
