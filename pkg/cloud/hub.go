// Package cloud provides the WebSocket hub rovers connect to.
package cloud

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/roverlink/go-rover/pkg/drive"
	"github.com/roverlink/go-rover/pkg/protocol"
)

// ErrNoFrame is returned when no camera frame has been received yet.
var ErrNoFrame = errors.New("cloud: no camera frame received")

// RoverConnection represents a connected rover
type RoverConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send sends a message to the rover
func (r *RoverConnection) Send(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return r.Conn.WriteMessage(websocket.TextMessage, data)
}

// latestFrame is the most recently received camera frame, decoded.
type latestFrame struct {
	roverID  string
	data     []byte
	mimeType string
	at       time.Time
}

// Hub manages WebSocket connections from rovers. It retains the most
// recent camera frame so the scene analyzer always has something to
// look at, and exposes a drive sink per rover.
type Hub struct {
	mu     sync.RWMutex
	rovers map[string]*RoverConnection
	frame  *latestFrame
	logger *slog.Logger

	// Callbacks
	onFrame func(roverID string, frame *protocol.FrameData)
	onMic   func(roverID string, mic *protocol.MicData)
	onState func(roverID string, state *protocol.StateData)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
}

// NewHub creates a new rover hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		rovers: make(map[string]*RoverConnection),
		logger: logger.With("component", "hub"),
	}
}

// OnFrame sets the callback for incoming camera frames
func (h *Hub) OnFrame(callback func(roverID string, frame *protocol.FrameData)) {
	h.mu.Lock()
	h.onFrame = callback
	h.mu.Unlock()
}

// OnMic sets the callback for incoming microphone data
func (h *Hub) OnMic(callback func(roverID string, mic *protocol.MicData)) {
	h.mu.Lock()
	h.onMic = callback
	h.mu.Unlock()
}

// OnState sets the callback for incoming rover state
func (h *Hub) OnState(callback func(roverID string, state *protocol.StateData)) {
	h.mu.Lock()
	h.onState = callback
	h.mu.Unlock()
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Rover connection endpoint
	app.Get("/ws/rover", websocket.New(h.handleRover))
	app.Get("/ws/rover/:id", websocket.New(h.handleRover))
}

// handleRover handles a rover WebSocket connection
func (h *Hub) handleRover(c *websocket.Conn) {
	// Get rover ID from path or generate one
	roverID := c.Params("id")
	if roverID == "" {
		roverID = uuid.NewString()
	}

	rover := &RoverConnection{
		ID:        roverID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.rovers[roverID] = rover
	roverCount := len(h.rovers)
	h.mu.Unlock()

	h.logger.Info("rover connected", "rover_id", roverID, "total", roverCount)

	defer func() {
		h.mu.Lock()
		delete(h.rovers, roverID)
		roverCount := len(h.rovers)
		h.mu.Unlock()

		h.logger.Info("rover disconnected", "rover_id", roverID, "total", roverCount)
	}()

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("rover read error", "rover_id", roverID, "error", err)
			return
		}

		rover.mu.Lock()
		rover.LastSeen = time.Now()
		rover.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(roverID, data)
	}
}

// handleMessage processes an incoming message from a rover
func (h *Hub) handleMessage(roverID string, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("parse error", "rover_id", roverID, "error", err)
		return
	}

	h.mu.RLock()
	frameCb := h.onFrame
	micCb := h.onMic
	stateCb := h.onState
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Add(1)
		frame, err := msg.GetFrameData()
		if err != nil {
			return
		}
		h.retainFrame(roverID, frame)
		if frameCb != nil {
			frameCb(roverID, frame)
		}

	case protocol.TypeMic:
		if micCb != nil {
			mic, err := msg.GetMicData()
			if err == nil {
				micCb(roverID, mic)
			}
		}

	case protocol.TypeState:
		if stateCb != nil {
			state, err := msg.GetStateData()
			if err == nil {
				stateCb(roverID, state)
			}
		}

	case protocol.TypePing:
		// Respond with pong
		h.SendPong(roverID, msg.Timestamp)
	}
}

// retainFrame stores the decoded frame for later scene analysis.
func (h *Hub) retainFrame(roverID string, frame *protocol.FrameData) {
	decoded, err := frame.DecodeFrameData()
	if err != nil {
		h.logger.Debug("frame decode error", "rover_id", roverID, "error", err)
		return
	}

	mime := "image/jpeg"
	if frame.Format != "" && frame.Format != "jpeg" {
		mime = "image/" + frame.Format
	}

	h.mu.Lock()
	h.frame = &latestFrame{
		roverID:  roverID,
		data:     decoded,
		mimeType: mime,
		at:       time.Now(),
	}
	h.mu.Unlock()
}

// LatestFrame returns the most recent camera frame received from any
// rover. Satisfies vision.FrameProvider.
func (h *Hub) LatestFrame() ([]byte, string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.frame == nil {
		return nil, "", ErrNoFrame
	}
	return h.frame.data, h.frame.mimeType, nil
}

// SendMove sends a drive command to a rover
func (h *Hub) SendMove(roverID string, throttle, steer int) error {
	msg, err := protocol.NewMoveMessage(throttle, steer)
	if err != nil {
		return err
	}
	return h.sendToRover(roverID, msg)
}

// SendEmote sends an emote command to a rover
func (h *Hub) SendEmote(roverID string, name string, duration float64) error {
	msg, err := protocol.NewEmoteMessage(name, duration)
	if err != nil {
		return err
	}
	return h.sendToRover(roverID, msg)
}

// SendServo sends a servo position to a rover
func (h *Hub) SendServo(roverID string, channel, angle int) error {
	msg, err := protocol.NewServoMessage(channel, angle)
	if err != nil {
		return err
	}
	return h.sendToRover(roverID, msg)
}

// SendPong sends a pong response to a rover
func (h *Hub) SendPong(roverID string, pingTS int64) error {
	msg, err := protocol.NewPongMessage("", pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToRover(roverID, msg)
}

// Sink returns a drive sink that forwards move commands to the given
// rover over its WebSocket connection. An empty roverID targets
// whichever rover is currently connected.
func (h *Hub) Sink(roverID string) drive.Sink {
	return drive.SinkFunc(func(ctx context.Context, cmd drive.Command) (string, error) {
		if err := h.SendMove(roverID, cmd.Throttle, cmd.Steer); err != nil {
			return "", err
		}
		return "ok", nil
	})
}

// sendToRover sends a message to a specific rover
func (h *Hub) sendToRover(roverID string, msg *protocol.Message) error {
	h.mu.RLock()
	rover, ok := h.rovers[roverID]
	if !ok && roverID == "" {
		for _, r := range h.rovers {
			rover, ok = r, true
			break
		}
	}
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "rover not connected")
	}

	h.messagesSent.Add(1)
	return rover.Send(msg)
}

// Broadcast sends a message to all connected rovers
func (h *Hub) Broadcast(msg *protocol.Message) {
	h.mu.RLock()
	rovers := make([]*RoverConnection, 0, len(h.rovers))
	for _, r := range h.rovers {
		rovers = append(rovers, r)
	}
	h.mu.RUnlock()

	for _, rover := range rovers {
		h.messagesSent.Add(1)
		if err := rover.Send(msg); err != nil {
			h.logger.Debug("broadcast error", "rover_id", rover.ID, "error", err)
		}
	}
}

// GetRover returns a rover connection by ID
func (h *Hub) GetRover(roverID string) *RoverConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rovers[roverID]
}

// RoverCount returns the number of connected rovers
func (h *Hub) RoverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rovers)
}

// Stats contains hub statistics
type Stats struct {
	RoverCount       int    `json:"rover_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		RoverCount:       h.RoverCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
	}
}

// RoverInfo contains info about a connected rover
type RoverInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetRoverInfos returns info about all connected rovers
func (h *Hub) GetRoverInfos() []RoverInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]RoverInfo, 0, len(h.rovers))
	for _, r := range h.rovers {
		r.mu.Lock()
		infos = append(infos, RoverInfo{
			ID:        r.ID,
			Connected: r.Connected,
			LastSeen:  r.LastSeen,
		})
		r.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for rover management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	rovers := api.Group("/rovers")

	// List connected rovers
	rovers.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"rovers": h.GetRoverInfos(),
			"count":  h.RoverCount(),
		})
	})

	// Get hub stats
	rovers.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	// Send drive command to rover
	rovers.Post("/:id/move", func(c *fiber.Ctx) error {
		roverID := c.Params("id")

		var cmd struct {
			Throttle int `json:"throttle"`
			Steer    int `json:"steer"`
		}
		if err := c.BodyParser(&cmd); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		if err := h.SendMove(roverID, cmd.Throttle, cmd.Steer); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "sent"})
	})

	// Send emote to rover
	rovers.Post("/:id/emote", func(c *fiber.Ctx) error {
		roverID := c.Params("id")

		var cmd struct {
			Name     string  `json:"name"`
			Duration float64 `json:"duration"`
		}
		if err := c.BodyParser(&cmd); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		if err := h.SendEmote(roverID, cmd.Name, cmd.Duration); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "sent"})
	})

	// Send servo position to rover
	rovers.Post("/:id/servo", func(c *fiber.Ctx) error {
		roverID := c.Params("id")

		var cmd struct {
			Channel int `json:"channel"`
			Angle   int `json:"angle"`
		}
		if err := c.BodyParser(&cmd); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		if err := h.SendServo(roverID, cmd.Channel, cmd.Angle); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "sent"})
	})
}
