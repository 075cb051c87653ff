// Package web provides the real-time operator dashboard.
package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/roverlink/go-rover/pkg/hub"
)

// BridgeState represents the current state of the bridge for the dashboard
type BridgeState struct {
	SessionOpen    bool   `json:"session_open"`
	RoverConnected bool   `json:"rover_connected"`
	Listening      bool   `json:"listening"`
	Speaking       bool   `json:"speaking"`
	Throttle       int    `json:"throttle"`
	Steer          int    `json:"steer"`
	LastUserText   string `json:"last_user_text"`
	LastModelText  string `json:"last_model_text"`
}

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // info, tool, speech, error
	Message string `json:"message"`
}

// TranscriptEntry represents one line of the spoken conversation
type TranscriptEntry struct {
	Time string `json:"time"`
	Role string `json:"role"` // operator, model
	Text string `json:"text"`
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	// State
	state   BridgeState
	stateMu sync.RWMutex

	// Log buffer (last 500 entries)
	logs   []LogEntry
	logsMu sync.RWMutex

	// Transcript buffer (last 100 entries)
	transcript   []TranscriptEntry
	transcriptMu sync.RWMutex

	// Hubs for websocket broadcast
	statusHub     *hub.Hub
	logHub        *hub.Hub
	transcriptHub *hub.Hub

	// OnSceneAnalyze runs a one-shot scene analysis of the latest
	// camera frame and returns the text result.
	OnSceneAnalyze func(ctx context.Context) string
}

// NewServer creates a new web dashboard server
func NewServer(port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		port:          port,
		logger:        logger.With("component", "web"),
		logs:          make([]LogEntry, 0, 500),
		transcript:    make([]TranscriptEntry, 0, 100),
		statusHub:     hub.New("status", logger),
		logHub:        hub.New("logs", logger),
		transcriptHub: hub.New("transcript", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rover Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// Static files
	app.Static("/", "./web")

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/transcript", s.handleGetTranscript)
	api.Post("/scene", s.handleScene)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))

	s.app = app
	return s
}

// Start starts the web server
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)

	go s.statusHub.Run()
	go s.logHub.Run()
	go s.transcriptHub.Run()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

// UpdateState updates the bridge state and broadcasts to clients
func (s *Server) UpdateState(update func(*BridgeState)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state // Copy for broadcast
	s.stateMu.Unlock()

	s.statusHub.BroadcastJSON(state)
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > 500 {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	s.logHub.BroadcastJSON(entry)
}

// AddTranscript records a spoken line and broadcasts it verbatim
func (s *Server) AddTranscript(role, text string) {
	entry := TranscriptEntry{
		Time: time.Now().Format("15:04:05"),
		Role: role,
		Text: text,
	}

	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, entry)
	if len(s.transcript) > 100 {
		s.transcript = s.transcript[1:]
	}
	s.transcriptMu.Unlock()

	s.transcriptHub.BroadcastJSON(entry)
}

// StatusHub returns the status hub for external use
func (s *Server) StatusHub() *hub.Hub {
	return s.statusHub
}

// LogHub returns the log hub for external use
func (s *Server) LogHub() *hub.Hub {
	return s.logHub
}

// TranscriptHub returns the transcript hub for external use
func (s *Server) TranscriptHub() *hub.Hub {
	return s.transcriptHub
}

// App returns the underlying Fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
