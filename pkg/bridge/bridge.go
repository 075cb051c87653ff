// Package bridge wires microphone capture, the live speech session,
// tool dispatch and speech playback into one voice teleoperation loop.
// A bridge owns its microphone and speaker exclusively while connected
// and tears both down exactly once, no matter how the session ends.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roverlink/go-rover/pkg/audioio"
	"github.com/roverlink/go-rover/pkg/capture"
	"github.com/roverlink/go-rover/pkg/drive"
	"github.com/roverlink/go-rover/pkg/live"
	"github.com/roverlink/go-rover/pkg/playback"
)

// ErrAlreadyConnected is returned by Connect while a session is active.
var ErrAlreadyConnected = errors.New("bridge: already connected")

// Config holds everything a bridge needs to run.
type Config struct {
	APIKey       string
	Model        string
	Voice        string
	SystemPrompt string

	// Endpoint overrides the Gemini Live websocket URL (tests).
	Endpoint string

	// Source is the microphone (16 kHz mono).
	Source audioio.Source
	// Speaker plays model speech (24 kHz mono).
	Speaker audioio.Sink
	// Sink receives drive commands from tool calls.
	Sink drive.Sink

	// FrameSamples is the outbound frame size; 0 selects the default.
	FrameSamples int

	// Clock overrides the playback clock (tests).
	Clock playback.Clock

	Logger *slog.Logger
}

// Bridge coordinates one voice teleoperation session.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	// Host callbacks, set before Connect.
	OnTranscript func(text string, isUser bool)
	OnClose      func()
	OnError      func(err error)

	mu         sync.Mutex
	connected  bool
	session    *live.Session
	pipeline   *capture.Pipeline
	scheduler  *playback.Scheduler
	dispatcher *drive.Dispatcher

	// established is true only once connect has handed the session to
	// the bridge. Session callbacks arriving earlier set sessionEnded
	// instead of tearing down, so a failed Connect reports through its
	// return value alone.
	established  bool
	sessionEnded bool

	// tornDown is true whenever there is nothing to tear down. The
	// false->true winner performs the teardown.
	tornDown atomic.Bool
}

// New creates a bridge. Connect starts a session.
func New(cfg Config) (*Bridge, error) {
	if cfg.Source == nil || cfg.Speaker == nil {
		return nil, errors.New("bridge: audio source and speaker are required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("bridge: drive sink is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
	}
	b.tornDown.Store(true)
	return b, nil
}

// Connected reports whether a session is active.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// moveRobotTool is the single function declared to the model.
func moveRobotTool() live.FunctionDeclaration {
	return live.FunctionDeclaration{
		Name: "moveRobot",
		Description: "Drive the rover. Speed is 0-255 and defaults to 200. " +
			"Duration is in milliseconds; 0 or absent drives continuously " +
			"until the next command.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"direction": map[string]any{
					"type": "string",
					"enum": []string{"forward", "backward", "left", "right", "stop"},
				},
				"speed":    map[string]any{"type": "number"},
				"duration": map[string]any{"type": "number"},
			},
			"required": []string{"direction"},
		},
	}
}

// Connect acquires the speaker and microphone, opens the live session
// and starts streaming. Only one session can be active per bridge.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return ErrAlreadyConnected
	}
	b.connected = true
	b.mu.Unlock()
	b.tornDown.Store(false)

	if err := b.connect(ctx); err != nil {
		// Failed connects report through the return value only; the
		// close callback is reserved for established sessions.
		b.tornDown.Store(true)
		b.mu.Lock()
		b.connected = false
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *Bridge) connect(ctx context.Context) error {
	b.mu.Lock()
	b.established = false
	b.sessionEnded = false
	b.mu.Unlock()

	if err := b.cfg.Speaker.Start(ctx); err != nil {
		return fmt.Errorf("bridge: acquire speaker: %w", err)
	}

	var schedOpts []playback.Option
	if b.cfg.Clock != nil {
		schedOpts = append(schedOpts, playback.WithClock(b.cfg.Clock))
	}
	scheduler := playback.NewScheduler(b.cfg.Speaker, b.logger, schedOpts...)
	dispatcher := drive.NewDispatcher(b.cfg.Sink, b.logger)

	session, err := live.NewSession(live.Config{
		APIKey:       b.cfg.APIKey,
		Model:        b.cfg.Model,
		Voice:        b.cfg.Voice,
		SystemPrompt: b.cfg.SystemPrompt,
		Endpoint:     b.cfg.Endpoint,
		Tools:        []live.FunctionDeclaration{moveRobotTool()},
		Logger:       b.logger,
	})
	if err != nil {
		scheduler.Stop()
		return err
	}

	session.OnAudio(func(pcm []byte) {
		if err := scheduler.Enqueue(pcm); err != nil {
			b.logger.Debug("dropping audio chunk", "error", err)
		}
	})
	session.OnInterrupt(func() {
		// Barge-in: drop everything queued and start fresh.
		scheduler.Flush()
	})
	session.OnTranscript(func(text string, isUser bool) {
		if b.OnTranscript != nil {
			b.OnTranscript(text, isUser)
		}
	})
	session.OnToolCall(func(ctx context.Context, call live.ToolCall) string {
		if call.Name != "moveRobot" {
			return "unsupported tool: " + call.Name
		}
		return dispatcher.Dispatch(ctx, call.Arguments)
	})
	session.OnClose(func() {
		b.sessionDone(nil)
	})
	session.OnError(func(err error) {
		b.sessionDone(err)
	})

	if err := session.Connect(ctx); err != nil {
		scheduler.Stop()
		return err
	}

	pipeline := capture.New(b.cfg.Source, func(frame capture.Frame) error {
		return session.SendFrame(frame.PCM)
	}, b.cfg.FrameSamples, b.logger)

	if err := pipeline.Start(ctx); err != nil {
		session.Close()
		scheduler.Stop()
		return fmt.Errorf("bridge: acquire microphone: %w", err)
	}

	b.mu.Lock()
	if b.sessionEnded || !b.connected || b.tornDown.Load() {
		// Disconnect or a remote close raced the tail of Connect; do
		// not leave a live session behind.
		b.mu.Unlock()
		pipeline.Stop()
		session.Close()
		scheduler.Stop()
		return live.ErrNotConnected
	}
	b.session = session
	b.pipeline = pipeline
	b.scheduler = scheduler
	b.dispatcher = dispatcher
	b.established = true
	b.mu.Unlock()

	b.logger.Info("bridge connected")
	return nil
}

// sessionDone routes a session-initiated shutdown. Until connect hands
// the session over, the event is only recorded; the host callbacks are
// reserved for established sessions.
func (b *Bridge) sessionDone(err error) {
	b.mu.Lock()
	if !b.established {
		b.sessionEnded = true
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.finish(err, true)
}

// Disconnect ends the session and releases the microphone and speaker.
// It is idempotent and safe from any state, including mid-connect.
func (b *Bridge) Disconnect() {
	b.finish(nil, false)
}

// finish tears everything down exactly once per session. err selects
// the host callback: nil fires OnClose, non-nil fires OnError; neither
// fires unless the session was established. fromSession is true when
// the session itself ended, in which case it needs no further Close.
func (b *Bridge) finish(err error, fromSession bool) {
	if !b.tornDown.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	pipeline := b.pipeline
	session := b.session
	scheduler := b.scheduler
	wasEstablished := b.established
	b.connected = false
	b.established = false
	b.pipeline = nil
	b.session = nil
	b.scheduler = nil
	b.dispatcher = nil
	b.mu.Unlock()

	if pipeline != nil {
		pipeline.Stop()
	}
	if session != nil && !fromSession {
		session.Close()
	}
	if scheduler != nil {
		scheduler.Stop()
	}

	if !wasEstablished {
		return
	}

	b.logger.Info("bridge disconnected", "error", err)

	if err != nil {
		if b.OnError != nil {
			b.OnError(err)
		}
		return
	}
	if b.OnClose != nil {
		b.OnClose()
	}
}
