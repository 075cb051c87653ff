package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/roverlink/go-rover/pkg/drive"
	"github.com/roverlink/go-rover/pkg/protocol"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.RoverCount() != 0 {
		t.Error("RoverCount should be 0 initially")
	}
	if _, _, err := hub.LatestFrame(); err != ErrNoFrame {
		t.Errorf("LatestFrame error = %v, want ErrNoFrame", err)
	}
}

func TestGetStats(t *testing.T) {
	hub := NewHub(nil)

	stats := hub.GetStats()

	if stats.RoverCount != 0 {
		t.Error("RoverCount should be 0")
	}
	if stats.MessagesReceived != 0 {
		t.Error("MessagesReceived should be 0")
	}
	if stats.MessagesSent != 0 {
		t.Error("MessagesSent should be 0")
	}
}

func TestCallbackSetters(t *testing.T) {
	hub := NewHub(nil)

	// Set all callbacks - should not panic
	hub.OnFrame(func(roverID string, frame *protocol.FrameData) {})
	hub.OnMic(func(roverID string, mic *protocol.MicData) {})
	hub.OnState(func(roverID string, state *protocol.StateData) {})
}

func TestGetRoverNotFound(t *testing.T) {
	hub := NewHub(nil)

	if hub.GetRover("nonexistent") != nil {
		t.Error("GetRover should return nil for nonexistent rover")
	}
}

func TestRegisterRoutes(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New()

	// Should not panic
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))
}

func startHubServer(t *testing.T, hub *Hub, addr string) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	hub.RegisterRoutes(app)

	go app.Listen(addr)
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)

	return app
}

func TestWebSocketConnection(t *testing.T) {
	hub := NewHub(nil)
	startHubServer(t, hub, ":18090")

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18090/ws/rover/test-rover", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	if hub.RoverCount() != 1 {
		t.Errorf("RoverCount = %d, want 1", hub.RoverCount())
	}
	if hub.GetRover("test-rover") == nil {
		t.Error("GetRover should return the connected rover")
	}

	ws.Close()
	time.Sleep(100 * time.Millisecond)

	if hub.RoverCount() != 0 {
		t.Errorf("RoverCount = %d, want 0 after disconnect", hub.RoverCount())
	}
}

func TestFrameCallbackAndRetention(t *testing.T) {
	hub := NewHub(nil)
	startHubServer(t, hub, ":18091")

	var frameReceived atomic.Bool
	var receivedRoverID atomic.Value

	hub.OnFrame(func(roverID string, frame *protocol.FrameData) {
		receivedRoverID.Store(roverID)
		frameReceived.Store(true)
	})

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws/rover/frame-test", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	msg, _ := protocol.NewFrameMessage(640, 480, jpeg, 1)
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	time.Sleep(100 * time.Millisecond)

	if !frameReceived.Load() {
		t.Fatal("frame callback should have been called")
	}
	if got := receivedRoverID.Load(); got != "frame-test" {
		t.Errorf("rover ID = %v, want frame-test", got)
	}

	// The decoded frame must be retained for the scene analyzer.
	frame, mime, err := hub.LatestFrame()
	if err != nil {
		t.Fatalf("LatestFrame error: %v", err)
	}
	if string(frame) != string(jpeg) {
		t.Error("retained frame does not match sent frame")
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", mime)
	}

	if hub.GetStats().FramesReceived < 1 {
		t.Error("FramesReceived should be at least 1")
	}
}

func TestSendMove(t *testing.T) {
	hub := NewHub(nil)
	startHubServer(t, hub, ":18092")

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18092/ws/rover/move-test", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	if err := hub.SendMove("move-test", 200, -150); err != nil {
		t.Fatalf("SendMove error: %v", err)
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	var msg protocol.Message
	json.Unmarshal(data, &msg)
	if msg.Type != protocol.TypeMove {
		t.Errorf("Type = %s, want move", msg.Type)
	}

	move, err := msg.GetMoveData()
	if err != nil {
		t.Fatalf("GetMoveData error: %v", err)
	}
	if move.Throttle != 200 || move.Steer != -150 {
		t.Errorf("move = %+v, want {move 200 -150}", move)
	}
}

func TestDriveSink(t *testing.T) {
	hub := NewHub(nil)
	startHubServer(t, hub, ":18093")

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18093/ws/rover/sink-test", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	var sink drive.Sink = hub.Sink("sink-test")

	status, err := sink.Move(context.Background(), drive.Command{Throttle: 180, Steer: 0})
	if err != nil {
		t.Fatalf("Move error: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	var msg protocol.Message
	json.Unmarshal(data, &msg)
	if msg.Type != protocol.TypeMove {
		t.Errorf("Type = %s, want move", msg.Type)
	}

	// Sink for a disconnected rover must surface the error.
	gone := hub.Sink("not-connected")
	if _, err := gone.Move(context.Background(), drive.Stop); err == nil {
		t.Error("Move to disconnected rover should fail")
	}
}

func TestSendToNonexistentRover(t *testing.T) {
	hub := NewHub(nil)

	if err := hub.SendMove("nonexistent", 0, 0); err == nil {
		t.Error("SendMove should return error for nonexistent rover")
	}
}

func TestAPIListRovers(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	req := httptest.NewRequest("GET", "/api/rovers/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "rovers") {
		t.Error("Response should contain 'rovers' field")
	}
}

func TestAPIStats(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	req := httptest.NewRequest("GET", "/api/rovers/stats", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(nil)

	// Broadcast to empty hub should not panic
	msg, _ := protocol.NewMessage(protocol.TypePing, nil)
	hub.Broadcast(msg)
}

func TestPingPong(t *testing.T) {
	hub := NewHub(nil)
	startHubServer(t, hub, ":18094")

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18094/ws/rover/ping-test", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	time.Sleep(50 * time.Millisecond)

	msg, _ := protocol.NewMessage(protocol.TypePing, nil)
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", resp.Type)
	}
}
