package web

import (
	"errors"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/pipeline"
	"github.com/gofiber/fiber/v2"
)

type errorResponse struct {
	Error          string       `json:"error"`
	Details        string       `json:"details,omitempty"`
	Classification apierr.Class `json:"classification"`
	Retryable      bool         `json:"retryable"`
}

// fail answers with the classified form of err.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	rec := apierr.Classify(err)
	status := apierr.HTTPStatus(rec)

	switch {
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrNotReady), errors.Is(err, pipeline.ErrNothingToRetry):
		status = fiber.StatusConflict
		rec.Message = err.Error()
	case errors.Is(err, pipeline.ErrUnknownNotice), errors.Is(err, errUnknownSession), errors.Is(err, errUnknownAudio):
		status = fiber.StatusNotFound
		rec.Message = err.Error()
	case errors.Is(err, pipeline.ErrClosed):
		status = fiber.StatusGone
		rec.Message = err.Error()
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "status", status, "class", rec.Class, "error", err)
	} else {
		s.logger.Warn("request failed", "path", c.Path(), "status", status, "class", rec.Class, "error", err)
	}

	return c.Status(status).JSON(errorResponse{
		Error:          rec.Message,
		Details:        rec.Details,
		Classification: rec.Class,
		Retryable:      rec.Retryable,
	})
}
