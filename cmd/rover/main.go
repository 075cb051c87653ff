package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"github.com/roverlink/go-rover/internal/config"
	"github.com/roverlink/go-rover/internal/log"
	"github.com/roverlink/go-rover/pkg/audioio"
	"github.com/roverlink/go-rover/pkg/bridge"
	"github.com/roverlink/go-rover/pkg/cloud"
	"github.com/roverlink/go-rover/pkg/drive"
	"github.com/roverlink/go-rover/pkg/protocol"
	"github.com/roverlink/go-rover/pkg/vision"
	"github.com/roverlink/go-rover/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Microphone and speaker
	micCfg := audioio.CaptureConfig()
	micCfg.Backend = audioio.Backend(cfg.Audio.Backend)
	micCfg.SampleRate = cfg.Audio.InputRate
	micCfg.Device = cfg.Audio.InputDevice
	mic, err := audioio.NewSource(micCfg, logger)
	if err != nil {
		logger.Error("open microphone", "error", err)
		os.Exit(1)
	}
	defer mic.Close()

	spkCfg := audioio.PlaybackConfig()
	spkCfg.Backend = audioio.Backend(cfg.Audio.Backend)
	spkCfg.SampleRate = cfg.Audio.OutputRate
	spkCfg.Device = cfg.Audio.OutputDevice
	speaker, err := audioio.NewSink(spkCfg, logger)
	if err != nil {
		logger.Error("open speaker", "error", err)
		os.Exit(1)
	}
	defer speaker.Close()

	// Dashboard and scene analyzer
	dashboard := web.NewServer(cfg.DashboardPort, logger)
	analyzer := vision.NewAnalyzer(cfg.GoogleAPIKey)

	// Device command sink
	var sink drive.Sink
	var roverHub *cloud.Hub

	switch cfg.Rover.Mode {
	case "http":
		sink = drive.NewHTTPSink(cfg.Rover.Addr)
		logger.Info("driving via http", "addr", cfg.Rover.Addr)

	case "hub":
		roverHub = cloud.NewHub(logger)
		sink = roverHub.Sink("") // any connected rover

		app := fiber.New(fiber.Config{
			AppName:               "Rover Hub",
			DisableStartupMessage: true,
		})
		roverHub.RegisterRoutes(app)
		roverHub.RegisterAPIRoutes(app.Group("/api"))

		roverHub.OnState(func(roverID string, state *protocol.StateData) {
			dashboard.UpdateState(func(st *web.BridgeState) {
				st.RoverConnected = state.Online
				st.Throttle = state.Throttle
				st.Steer = state.Steer
			})
		})

		go func() {
			if err := app.Listen(":" + cfg.Rover.Port); err != nil {
				logger.Error("rover hub listen", "error", err)
			}
		}()
		defer app.Shutdown()

		logger.Info("rover hub listening", "port", cfg.Rover.Port)
	}

	dashboard.OnSceneAnalyze = func(ctx context.Context) string {
		if roverHub == nil {
			return "scene analysis failed: no camera source in http mode"
		}
		return analyzer.AnalyzeLatest(ctx, roverHub)
	}
	dashboard.StartAsync()
	defer dashboard.Shutdown()

	// The bridge itself
	b, err := bridge.New(bridge.Config{
		APIKey:       cfg.GoogleAPIKey,
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		SystemPrompt: cfg.SystemPrompt,
		Source:       mic,
		Speaker:      speaker,
		Sink:         sink,
		FrameSamples: cfg.Audio.FrameSamples,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("build bridge", "error", err)
		os.Exit(1)
	}

	b.OnTranscript = func(text string, isUser bool) {
		role := "model"
		if isUser {
			role = "operator"
		}
		dashboard.AddTranscript(role, text)
		dashboard.UpdateState(func(st *web.BridgeState) {
			if isUser {
				st.LastUserText = text
			} else {
				st.LastModelText = text
			}
		})
	}
	b.OnClose = func() {
		dashboard.AddLog("info", "session closed")
		dashboard.UpdateState(func(st *web.BridgeState) { st.SessionOpen = false })
	}
	b.OnError = func(err error) {
		dashboard.AddLog("error", err.Error())
		dashboard.UpdateState(func(st *web.BridgeState) { st.SessionOpen = false })
	}

	if err := b.Connect(ctx); err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	dashboard.UpdateState(func(st *web.BridgeState) {
		st.SessionOpen = true
		st.Listening = true
	})
	dashboard.AddLog("info", "voice bridge connected")

	logger.Info("running", "model", cfg.Model, "voice", cfg.Voice,
		"dashboard", "http://localhost:"+cfg.DashboardPort)

	// Run until signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	b.Disconnect()
}
