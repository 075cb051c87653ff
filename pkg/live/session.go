// Package live maintains the duplex streaming session with the Gemini
// Live API: encoded microphone frames go up, synthesized speech, text
// transcripts and tool calls come down.
package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultModel    = "models/gemini-2.0-flash-exp"
	defaultVoice    = "Puck"

	handshakeTimeout = 10 * time.Second
)

// Common errors returned by the session.
var (
	ErrNotConnected   = errors.New("live: session not connected")
	ErrAlreadyStarted = errors.New("live: session already started")
	ErrMissingAPIKey  = errors.New("live: missing API key")
)

// State is the connection state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// ToolCall is a function invocation issued by the model. ID is opaque
// and must be echoed back unchanged in the response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolHandler executes one tool call and returns the result string
// relayed back to the model.
type ToolHandler func(ctx context.Context, call ToolCall) string

// Config holds session settings.
type Config struct {
	APIKey       string
	Model        string
	Voice        string
	SystemPrompt string

	// Endpoint overrides the Gemini Live websocket URL (tests).
	Endpoint string

	// Tools are declared to the model during setup.
	Tools []FunctionDeclaration

	Logger *slog.Logger
}

// Session owns one duplex connection to the speech model.
type Session struct {
	cfg    Config
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex // serializes writes, preserving outbound FIFO order

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc

	// terminal guards the single closed/error transition.
	terminal sync.Once

	onAudio      func(pcm []byte)
	onTranscript func(text string, isUser bool)
	onToolCall   ToolHandler
	onInterrupt  func()
	onClose      func()
	onError      func(err error)
}

// NewSession creates a session. Connect must be called before audio
// can be sent.
func NewSession(cfg Config) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "live"),
		state:  StateIdle,
	}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsOpen reports whether the session accepts audio.
func (s *Session) IsOpen() bool {
	return s.State() == StateOpen
}

// OnAudio sets the callback for decoded model speech (PCM16 at 24 kHz).
func (s *Session) OnAudio(fn func(pcm []byte)) { s.onAudio = fn }

// OnTranscript sets the callback for transcript text. isUser is true
// for the operator's own transcribed speech.
func (s *Session) OnTranscript(fn func(text string, isUser bool)) { s.onTranscript = fn }

// OnToolCall sets the handler invoked for each function call. Calls in
// one batch run concurrently; each handler result is relayed back with
// the originating call's id.
func (s *Session) OnToolCall(fn ToolHandler) { s.onToolCall = fn }

// OnInterrupt sets the callback fired when the operator barges in over
// model speech.
func (s *Session) OnInterrupt(fn func()) { s.onInterrupt = fn }

// OnClose sets the callback fired exactly once when the session ends
// without error.
func (s *Session) OnClose(fn func()) { s.onClose = fn }

// OnError sets the callback fired exactly once on a fatal transport
// error.
func (s *Session) OnError(fn func(err error)) { s.onError = fn }

// Connect establishes the websocket, declares the tools and system
// prompt, and starts the read loop. Audio-only responses are requested;
// there is no text fallback.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	url := fmt.Sprintf("%s?key=%s", s.cfg.Endpoint, s.cfg.APIKey)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		cancel()
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateError
		}
		s.mu.Unlock()
		return fmt.Errorf("live: connect: %w", err)
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Torn down mid-connect; do not resurrect.
		s.mu.Unlock()
		cancel()
		ws.Close()
		return ErrNotConnected
	}
	s.ws = ws
	s.cancel = cancel
	s.state = StateOpen
	s.mu.Unlock()

	if err := s.sendSetup(); err != nil {
		s.Close()
		return fmt.Errorf("live: configure session: %w", err)
	}

	go s.readLoop(ctx)

	s.logger.Info("live session connected", "model", s.cfg.Model, "voice", s.cfg.Voice)

	return nil
}

func (s *Session) sendSetup() error {
	setup := setupMessage{
		Setup: setupPayload{
			Model: s.cfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{
							VoiceName: s.cfg.Voice,
						},
					},
				},
			},
		},
	}

	if s.cfg.SystemPrompt != "" {
		setup.Setup.SystemInstruction = &systemInstruction{
			Parts: []textPart{{Text: s.cfg.SystemPrompt}},
		}
	}

	if len(s.cfg.Tools) > 0 {
		setup.Setup.Tools = []toolSet{{FunctionDeclarations: s.cfg.Tools}}
	}

	return s.sendJSON(setup)
}

// SendFrame transmits one encoded audio frame (PCM16 at 16 kHz) as a
// realtime input chunk. Frames are written in call order.
func (s *Session) SendFrame(pcm []byte) error {
	if !s.IsOpen() {
		return ErrNotConnected
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{
				Data:     base64.StdEncoding.EncodeToString(pcm),
				MimeType: "audio/pcm",
			}},
		},
	}

	return s.sendJSON(msg)
}

// SubmitToolResult relays a tool result back on the session, carrying
// the originating call's id.
func (s *Session) SubmitToolResult(callID, name, result string) error {
	msg := toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{{
				ID:       callID,
				Name:     name,
				Response: map[string]any{"result": result},
			}},
		},
	}

	return s.sendJSON(msg)
}

// Close tears the session down. It is idempotent and safe from any
// state, including mid-connect. The close callback fires at most once
// per connected session; responses arriving afterwards are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed || prev == StateError {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	ws := s.ws
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}

	if prev == StateOpen || prev == StateConnecting {
		s.terminal.Do(func() {
			if s.onClose != nil {
				s.onClose()
			}
		})
	}

	return nil
}

// fail transitions to the error state and fires the error callback
// exactly once.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	ws := s.ws
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}

	s.terminal.Do(func() {
		if s.onError != nil {
			s.onError(err)
		}
	})
}

func (s *Session) sendJSON(v any) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	if s.ws == nil {
		return ErrNotConnected
	}
	if st := s.State(); st == StateClosed || st == StateError {
		return ErrNotConnected
	}

	return s.ws.WriteJSON(v)
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		var msg serverMessage
		if err := s.ws.ReadJSON(&msg); err != nil {
			if s.State() != StateOpen {
				// Local teardown already happened.
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.remoteClosed()
			} else {
				s.fail(fmt.Errorf("live: read: %w", err))
			}
			return
		}

		if s.State() != StateOpen {
			// Events after teardown are dropped.
			return
		}

		s.handleMessage(ctx, &msg)
	}
}

// remoteClosed handles an orderly close from the far side.
func (s *Session) remoteClosed() {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.terminal.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *Session) handleMessage(ctx context.Context, msg *serverMessage) {
	switch {
	case msg.SetupComplete != nil:
		s.logger.Debug("live session ready")

	case msg.ServerContent != nil:
		s.handleServerContent(msg.ServerContent)

	case msg.ToolCall != nil:
		s.handleToolCall(ctx, msg.ToolCall)

	case msg.ToolCallCancellation != nil:
		s.logger.Debug("tool call cancelled by model")

	case msg.GoAway != nil:
		s.logger.Info("server requested disconnect")
		s.remoteClosed()
	}
}

func (s *Session) handleServerContent(content *serverContent) {
	if content.Interrupted {
		if s.onInterrupt != nil {
			s.onInterrupt()
		}
		return
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData != nil && strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
				audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					s.logger.Warn("bad audio chunk", "error", err)
					continue
				}
				if len(audio) > 0 && s.onAudio != nil {
					s.onAudio(audio)
				}
			}
		}
	}

	if content.InputTranscription != nil && content.InputTranscription.Text != "" {
		if s.onTranscript != nil {
			s.onTranscript(content.InputTranscription.Text, true)
		}
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		if s.onTranscript != nil {
			s.onTranscript(content.OutputTranscription.Text, false)
		}
	}

	if content.TurnComplete {
		s.logger.Debug("model turn complete")
	}
}

// handleToolCall fans a batch of function calls out to the handler.
// Each call runs in its own goroutine and is answered independently;
// the join only confirms response delivery. Responses may land out of
// order but always carry their originating call's id.
func (s *Session) handleToolCall(ctx context.Context, event *toolCallEvent) {
	calls := event.FunctionCalls
	if len(calls) == 0 {
		return
	}

	go func() {
		g, ctx := errgroup.WithContext(ctx)
		for _, fc := range calls {
			fc := fc
			g.Go(func() error {
				call := ToolCall{ID: fc.ID, Name: fc.Name, Arguments: fc.Args}

				result := "unsupported tool: " + fc.Name
				if s.onToolCall != nil {
					result = s.onToolCall(ctx, call)
				}

				if err := s.SubmitToolResult(fc.ID, fc.Name, result); err != nil {
					// Session gone; the result is discarded silently.
					s.logger.Debug("dropping tool result after teardown", "id", fc.ID)
				}
				return nil
			})
		}
		g.Wait()
	}()
}
