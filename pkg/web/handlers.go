package web

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-robospeech/pkg/hub"
	"github.com/teslashibe/go-robospeech/pkg/store"
)

// maxHistoryLimit caps /api/history?limit.
const maxHistoryLimit = 500

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	Handler any       `json:"handler"`
	Clients int       `json:"clients"`
	Events  hub.Stats `json:"events"`
	Uptime  string    `json:"uptime"`
	Robot   bool      `json:"robot"`
	History bool      `json:"history"`
}

// ModeResponse is returned by /api/mode.
type ModeResponse struct {
	Form        string `json:"form"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Description string `json:"description"`
}

// HistoryResponse is returned by /api/history.
type HistoryResponse struct {
	Total      int64             `json:"total"`
	Utterances []store.Utterance `json:"utterances"`
}

// handleStatus returns handler statistics
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		Clients: s.events.ClientCount(),
		Events:  s.events.Stats(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Robot:   s.mode != nil,
		History: s.history != nil,
	}
	if s.status != nil {
		resp.Handler = s.status.Stats()
	}
	return c.JSON(resp)
}

// handleMode queries the robot's motion service
func (s *Server) handleMode(c *fiber.Ctx) error {
	if s.mode == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "robot not configured",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), DefaultModeTimeout)
	defer cancel()

	status, err := s.mode.CheckMode(ctx)
	if err != nil {
		code := fiber.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			code = fiber.StatusGatewayTimeout
		}
		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(ModeResponse{
		Form:        status.Form,
		Name:        status.Name,
		Active:      status.Active(),
		Description: status.String(),
	})
}

// handleHistory returns recent speech jobs, newest first
func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "history not configured",
		})
	}

	limit := c.QueryInt("limit", store.DefaultRecentLimit)
	if limit < 1 || limit > maxHistoryLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	ctx := c.UserContext()
	recent, err := s.history.Recent(ctx, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	total, err := s.history.Count(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(HistoryResponse{Total: total, Utterances: recent})
}

// handleEventsWS streams bus events to a websocket client
func (s *Server) handleEventsWS(c *websocket.Conn) {
	// Send current state first
	s.stateMu.RLock()
	state := s.lastState
	s.stateMu.RUnlock()
	if state != nil {
		ev, err := newEventMessage(EventState, state)
		if err == nil {
			if err := c.WriteMessage(websocket.TextMessage, ev); err != nil {
				return
			}
		}
	}

	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}

func newEventMessage(eventType string, data []byte) ([]byte, error) {
	return json.Marshal(hub.Event{Type: eventType, Data: json.RawMessage(data), Time: time.Now()})
}
