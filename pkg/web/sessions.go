package web

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/pipeline"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

var errUnknownSession = errors.New("unknown session")

// Sessions maps session ids to their orchestrators.
type Sessions struct {
	mu      sync.RWMutex
	items   map[string]*pipeline.Orchestrator
	factory func() *pipeline.Orchestrator
}

func NewSessions(factory func() *pipeline.Orchestrator) *Sessions {
	return &Sessions{items: make(map[string]*pipeline.Orchestrator), factory: factory}
}

func (s *Sessions) Create() (string, *pipeline.Orchestrator) {
	id := uuid.NewString()
	o := s.factory()
	s.mu.Lock()
	s.items[id] = o
	s.mu.Unlock()
	return id, o
}

func (s *Sessions) Get(id string) (*pipeline.Orchestrator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.items[id]
	return o, ok
}

// Delete closes and forgets a session.
func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	o, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if ok {
		_ = o.Close()
	}
	return ok
}

func (s *Sessions) CloseAll() {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]*pipeline.Orchestrator)
	s.mu.Unlock()
	for _, o := range items {
		_ = o.Close()
	}
}

// InvalidateHealth drops the cached provider checks of every live session.
func (s *Sessions) InvalidateHealth() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.items {
		o.RecheckHealth()
	}
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

type sessionResponse struct {
	ID    string         `json:"id"`
	State pipeline.State `json:"state"`
}

func (s *Server) session(c *fiber.Ctx) (*pipeline.Orchestrator, error) {
	o, ok := s.sessions.Get(c.Params("id"))
	if !ok {
		return nil, errUnknownSession
	}
	return o, nil
}

func (s *Server) respondState(c *fiber.Ctx, status int, o *pipeline.Orchestrator) error {
	st, err := o.Snapshot()
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(status).JSON(sessionResponse{ID: c.Params("id"), State: st})
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	id, o := s.sessions.Create()
	st, err := o.Snapshot()
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("session created", "session", id)
	return c.Status(fiber.StatusCreated).JSON(sessionResponse{ID: id, State: st})
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	o, err := s.session(c)
	if err != nil {
		return s.fail(c, err)
	}
	return s.respondState(c, fiber.StatusOK, o)
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if !s.sessions.Delete(c.Params("id")) {
		return s.fail(c, errUnknownSession)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSubmit accepts the story form as JSON or as an urlencoded form.
func (s *Server) handleSubmit(c *fiber.Ctx) error {
	o, err := s.session(c)
	if err != nil {
		return s.fail(c, err)
	}
	params, err := s.parseParams(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := o.Submit(params); err != nil {
		return s.fail(c, err)
	}
	return s.respondState(c, fiber.StatusAccepted, o)
}

func (s *Server) parseParams(c *fiber.Ctx) (story.Params, error) {
	var params story.Params
	contentType := string(c.Request().Header.ContentType())

	switch {
	case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
		values := url.Values{}
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			values.Add(string(key), string(value))
		})
		if err := s.decoder.Decode(&params, values); err != nil {
			return params, apierr.Wrap(apierr.ValidationError, "form", err)
		}
	case len(c.Body()) > 0:
		if err := c.BodyParser(&params); err != nil {
			return params, apierr.Wrap(apierr.ValidationError, "form", err)
		}
	}
	return params, nil
}

// sessionAction adapts an orchestrator command into a handler.
func (s *Server) sessionAction(action func(*pipeline.Orchestrator) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		o, err := s.session(c)
		if err != nil {
			return s.fail(c, err)
		}
		if err := action(o); err != nil {
			return s.fail(c, err)
		}
		return s.respondState(c, fiber.StatusOK, o)
	}
}

type dismissRequest struct {
	ID int `json:"id" schema:"id"`
}

func (s *Server) handleDismissNotice(c *fiber.Ctx) error {
	o, err := s.session(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req dismissRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, apierr.Wrap(apierr.ValidationError, "notice", err))
	}
	if err := o.DismissNotice(req.ID); err != nil {
		return s.fail(c, err)
	}
	return s.respondState(c, fiber.StatusOK, o)
}

// requireSession rejects websocket upgrades for unknown sessions before the handshake.
func (s *Server) requireSession(c *fiber.Ctx) error {
	o, err := s.session(c)
	if err != nil {
		return s.fail(c, err)
	}
	c.Locals("orchestrator", o)
	return c.Next()
}

// handleSessionWS pushes every state update of a session until either side goes away.
func (s *Server) handleSessionWS(c *websocket.Conn) {
	o, ok := c.Locals("orchestrator").(*pipeline.Orchestrator)
	if !ok {
		return
	}
	updates, cancel, err := o.Subscribe()
	if err != nil {
		_ = c.WriteJSON(errorResponse{Error: err.Error(), Classification: apierr.Unknown})
		return
	}
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case u, open := <-updates:
			if !open {
				return
			}
			if err := c.WriteJSON(u); err != nil {
				s.logger.Debug("websocket write failed", "session", c.Params("id"), "error", err)
				return
			}
		}
	}
}
