package web

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/ai"
	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/image"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/andrejsstepanovs/fairytale/pkg/tts"
	"github.com/gofiber/fiber/v2"
	"github.com/invopop/jsonschema"
	"github.com/sourcegraph/conc"
)

var errUnknownAudio = errors.New("unknown audio handle")

type storyRequest struct {
	ai.Request
	Stream *bool `json:"stream,omitempty" jsonschema:"default=true"`
}

func (r storyRequest) streaming() bool {
	return r.Stream == nil || *r.Stream
}

type storyOutcome struct {
	text string
	err  error
}

// handleStory streams the story as plain text. The status is committed only
// once the first chunk arrives, so failures before that are answered with a
// classified error.
func (s *Server) handleStory(c *fiber.Ctx) error {
	var req storyRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, apierr.Wrap(apierr.ValidationError, "story", err))
	}

	if !req.streaming() {
		text, err := s.gw.Story.Generate(c.UserContext(), s.runner, req.Request, nil, nil)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(fiber.Map{"text": text})
	}

	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan string, 64)
	outcome := make(chan storyOutcome, 1)
	go func() {
		defer close(chunks)
		text, err := s.gw.Story.Generate(ctx, s.runner, req.Request, func(chunk string) {
			select {
			case chunks <- chunk:
			case <-ctx.Done():
			}
		}, nil)
		outcome <- storyOutcome{text: text, err: err}
	}()

	first, ok := <-chunks
	if !ok {
		cancel()
		out := <-outcome
		if out.err != nil {
			return s.fail(c, out.err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(out.text)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		write := func(chunk string) bool {
			if _, err := w.WriteString(chunk); err != nil {
				return false
			}
			return w.Flush() == nil
		}
		if !write(first) {
			return
		}
		for chunk := range chunks {
			if !write(chunk) {
				s.logger.Info("story client went away")
				return
			}
		}
		if out := <-outcome; out.err != nil {
			s.logger.Warn("story stream interrupted", "error", out.err)
		}
	})
	return nil
}

func (s *Server) handleImage(c *fiber.Ctx) error {
	var req image.Request
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, apierr.Wrap(apierr.ValidationError, "image", err))
	}
	res, err := s.gw.Images.Generate(c.UserContext(), s.runner, req, nil)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

// handleSpeech answers with audio bytes, or with base64 JSON when the
// deployment or the client asks for it.
func (s *Server) handleSpeech(c *fiber.Ctx) error {
	var req tts.Request
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, apierr.Wrap(apierr.ValidationError, "speech", err))
	}
	audio, err := s.gw.Speech.Generate(c.UserContext(), s.runner, req, nil)
	if err != nil {
		return s.fail(c, err)
	}

	if s.cfg.SpeechDelivery == "base64" || strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON) {
		return c.JSON(tts.Encode(audio.Data))
	}
	c.Set(fiber.HeaderContentType, audio.MIME)
	c.Set("X-Audio-Provider", audio.Provider)
	return c.Send(audio.Data)
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	audio, ok := s.audio.Get(c.Params("handle"))
	if !ok {
		return s.fail(c, errUnknownAudio)
	}
	c.Set(fiber.HeaderContentType, audio.MIME)
	return c.Send(audio.Data)
}

// Status is the provider availability report.
type Status struct {
	Timestamp      time.Time                                     `json:"timestamp"`
	KeysConfigured map[string]bool                               `json:"keysConfigured"`
	Environment    map[string]string                             `json:"environment"`
	APIStatus      map[string]map[string]fallback.ProviderHealth `json:"apiStatus"`
}

type healthCheck struct {
	capability fallback.Capability
	name       string
	probe      func(ctx context.Context) error
}

func (s *Server) healthChecks() []healthCheck {
	var checks []healthCheck
	for _, p := range s.gw.Story.Providers() {
		checks = append(checks, healthCheck{fallback.CapabilityStory, p.Name(), p.Health})
	}
	for _, p := range s.gw.Images.Providers() {
		checks = append(checks, healthCheck{fallback.CapabilityImage, p.Name(), p.Health})
	}
	for _, p := range s.gw.Speech.Providers() {
		checks = append(checks, healthCheck{fallback.CapabilitySpeech, p.Name(), p.Health})
	}
	return checks
}

// handleStatus reports provider availability. ?refresh=true drops cached results first.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status(c.QueryBool("refresh")))
}

// Status probes every configured provider, reusing cached results unless
// refresh is set. A refresh also makes every session check its providers again.
func (s *Server) Status(refresh bool) Status {
	if refresh {
		s.health.InvalidateAll()
		s.sessions.InvalidateHealth()
	}

	checks := s.healthChecks()
	results := make([]fallback.ProviderHealth, len(checks))
	var wg conc.WaitGroup
	for i, check := range checks {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HealthTimeout)
			defer cancel()
			results[i] = s.health.Check(ctx, fallback.HealthKey(check.capability, check.name), check.probe)
		})
	}
	wg.Wait()

	apiStatus := map[string]map[string]fallback.ProviderHealth{}
	for i, check := range checks {
		capability := string(check.capability)
		if apiStatus[capability] == nil {
			apiStatus[capability] = map[string]fallback.ProviderHealth{}
		}
		apiStatus[capability][check.name] = results[i]
	}

	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" {
		goEnv = "development"
	}
	return Status{
		Timestamp:      time.Now().UTC(),
		KeysConfigured: s.cfg.KeysConfigured(),
		Environment: map[string]string{
			"goEnv":          goEnv,
			"speechDelivery": s.cfg.SpeechDelivery,
			"storyModel":     s.cfg.StoryModel,
			"imageModel":     s.cfg.ImageModel,
		},
		APIStatus: apiStatus,
	}
}

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
)

func (s *Server) handleSchema(c *fiber.Ctx) error {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{ExpandedStruct: true}
		schemas = map[string]*jsonschema.Schema{
			"params": r.Reflect(&story.Params{}),
			"story":  r.Reflect(&storyRequest{}),
			"image":  r.Reflect(&image.Request{}),
			"speech": r.Reflect(&tts.Request{}),
		}
	})
	return c.JSON(schemas)
}
