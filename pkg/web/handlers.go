package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/roverlink/go-rover/pkg/hub"
)

// handleStatus returns the current bridge state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return c.JSON(s.state)
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return c.JSON(s.logs)
}

// handleGetTranscript returns the recent conversation
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	s.transcriptMu.RLock()
	defer s.transcriptMu.RUnlock()
	return c.JSON(s.transcript)
}

// handleScene triggers a one-shot scene analysis of the latest frame
func (s *Server) handleScene(c *fiber.Ctx) error {
	if s.OnSceneAnalyze == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "scene analysis not configured",
		})
	}

	result := s.OnSceneAnalyze(c.Context())
	s.AddLog("tool", "Scene: "+result)

	return c.JSON(fiber.Map{
		"result": result,
	})
}

// handleLogsWS streams live log entries
func (s *Server) handleLogsWS(c *websocket.Conn) {
	// Send recent logs before joining the broadcast
	s.logsMu.RLock()
	for _, entry := range s.logs {
		c.WriteJSON(entry)
	}
	s.logsMu.RUnlock()

	hub.NewClient(s.logHub, c).Run()
}

// handleStatusWS streams state updates
func (s *Server) handleStatusWS(c *websocket.Conn) {
	// Send current state first
	s.stateMu.RLock()
	c.WriteJSON(s.state)
	s.stateMu.RUnlock()

	hub.NewClient(s.statusHub, c).Run()
}

// handleTranscriptWS streams the live conversation
func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	// Replay recent transcript before joining the broadcast
	s.transcriptMu.RLock()
	for _, entry := range s.transcript {
		c.WriteJSON(entry)
	}
	s.transcriptMu.RUnlock()

	hub.NewClient(s.transcriptHub, c).Run()
}
