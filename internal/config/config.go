// Package config provides configuration loading for go-rover commands.
// Settings come from an optional YAML file with environment variable
// overrides, so a bare `GOOGLE_API_KEY=... go run ./cmd/rover` works
// without any file on disk.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the bridge.
const (
	DefaultModel           = "models/gemini-2.0-flash-exp"
	DefaultVoice           = "Puck"
	DefaultInputRate       = 16000
	DefaultOutputRate      = 24000
	DefaultFrameSamples    = 4096
	DefaultDashboardPort   = "8090"
	DefaultRoverPort       = "8000"
	DefaultCommandDeadline = 2 * time.Second
)

// Config holds all settings for the voice bridge.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Gemini Live session settings.
	GoogleAPIKey string `yaml:"google_api_key"`
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
	SystemPrompt string `yaml:"system_prompt"`

	// Audio capture and playback.
	Audio AudioConfig `yaml:"audio"`

	// Device command sink.
	Rover RoverConfig `yaml:"rover"`

	// Operator dashboard.
	DashboardPort string `yaml:"dashboard_port"`
}

// AudioConfig holds microphone and speaker settings.
type AudioConfig struct {
	Backend       string `yaml:"backend"`        // "auto", "alsa", "mock"
	InputDevice   string `yaml:"input_device"`   // e.g. "hw:1,0"
	OutputDevice  string `yaml:"output_device"`  // e.g. "default"
	InputRate     int    `yaml:"input_rate"`     // capture sample rate
	OutputRate    int    `yaml:"output_rate"`    // playback sample rate
	FrameSamples  int    `yaml:"frame_samples"`  // samples per outbound frame
}

// RoverConfig selects how motor commands reach the device.
type RoverConfig struct {
	// Mode is "http" (POST to a daemon) or "hub" (rover dials in over
	// websocket and commands are pushed to it).
	Mode string `yaml:"mode"`

	// Addr is the rover daemon address for http mode, e.g. "192.168.68.80:8000".
	Addr string `yaml:"addr"`

	// Port is the listen port for hub mode.
	Port string `yaml:"port"`
}

// Default returns a Config with defaults applied.
func Default() Config {
	return Config{
		LogLevel: "info",
		Model:    DefaultModel,
		Voice:    DefaultVoice,
		Audio: AudioConfig{
			Backend:      "auto",
			InputRate:    DefaultInputRate,
			OutputRate:   DefaultOutputRate,
			FrameSamples: DefaultFrameSamples,
		},
		Rover: RoverConfig{
			Mode: "hub",
			Port: DefaultRoverPort,
		},
		DashboardPort: DefaultDashboardPort,
	}
}

// Load reads the YAML configuration file at path, applies environment
// overrides and validates the result. An empty path skips the file and
// uses defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		cfg, err = fromReader(f)
		if err != nil {
			return cfg, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fromReader decodes a YAML config from r on top of the defaults.
// Useful in tests where configs are constructed from string literals.
func fromReader(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file settings with environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.GoogleAPIKey = v
	}
	if v := os.Getenv("ROVER_ADDR"); v != "" {
		cfg.Rover.Mode = "http"
		cfg.Rover.Addr = v
	}
	if v := os.Getenv("ROVER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("ROVER_VOICE"); v != "" {
		cfg.Voice = v
	}
	if v := os.Getenv("ROVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.GoogleAPIKey == "" {
		return fmt.Errorf("config: google_api_key is required (or set GOOGLE_API_KEY)")
	}
	switch c.Rover.Mode {
	case "http":
		if c.Rover.Addr == "" {
			return fmt.Errorf("config: rover.addr is required in http mode")
		}
	case "hub":
		if c.Rover.Port == "" {
			return fmt.Errorf("config: rover.port is required in hub mode")
		}
	default:
		return fmt.Errorf("config: unknown rover.mode %q (want http or hub)", c.Rover.Mode)
	}
	if c.Audio.InputRate <= 0 || c.Audio.OutputRate <= 0 {
		return fmt.Errorf("config: sample rates must be positive")
	}
	if c.Audio.FrameSamples <= 0 {
		return fmt.Errorf("config: audio.frame_samples must be positive")
	}
	return nil
}
