//go:build linux

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

// ALSASource captures microphone audio by running arecord and reading
// raw PCM16 from its stdout. This avoids CGO while still using the
// system's ALSA plumbing (plughw handles format conversion).
type ALSASource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	cmd      *exec.Cmd
	stdout   io.ReadCloser

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	device string
}

func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}

	return &ALSASource{
		cfg:      cfg,
		logger:   logger,
		device:   device,
		streamCh: make(chan AudioChunk, 10),
	}, nil
}

// Start spawns arecord and begins reading chunks.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, "arecord",
		"-q",
		"-D", s.device,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("arecord stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start arecord: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.running = true
	s.streamCh = make(chan AudioChunk, 10)

	go s.captureLoop(stdout, s.streamCh)

	s.logger.Info("alsa audio source started",
		"device", s.device,
		"sample_rate", s.cfg.SampleRate,
	)

	return nil
}

func (s *ALSASource) captureLoop(r io.Reader, out chan<- AudioChunk) {
	defer close(out)

	bufBytes := s.cfg.BufferSize() * s.cfg.Channels * 2
	buf := make([]byte, bufBytes)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			// Pipe closed on Stop, or arecord died.
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.logger.Warn("alsa capture ended", "error", err)
			}
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)

		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
			s.logger.Debug("alsa source: buffer full, dropping chunk")
		}
	}
}

// Stop halts capture and reaps the arecord process.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.stdout = nil

	s.logger.Info("alsa audio source stopped")

	return nil
}

// Stream returns the audio chunk channel.
func (s *ALSASource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ALSASource) Config() Config {
	return s.cfg
}

// Name returns "alsa".
func (s *ALSASource) Name() string {
	return "alsa"
}

// Close releases resources.
func (s *ALSASource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "alsa",
	}
}

var _ SourceWithStats = (*ALSASource)(nil)

// ALSASink plays audio by piping raw PCM16 into aplay.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64

	device string
}

func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}

	return &ALSASink{
		cfg:    cfg,
		logger: logger,
		device: device,
	}, nil
}

// Start spawns aplay ready to accept PCM on stdin.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, "aplay",
		"-q",
		"-D", s.device,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("aplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start aplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true

	s.logger.Info("alsa audio sink started",
		"device", s.device,
		"sample_rate", s.cfg.SampleRate,
	)

	return nil
}

// Stop halts playback and reaps the aplay process.
func (s *ALSASink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil

	s.logger.Info("alsa audio sink stopped")

	return nil
}

// Write sends a chunk to aplay.
func (s *ALSASink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.stdin == nil {
		return io.ErrClosedPipe
	}

	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("write to aplay: %w", err)
	}

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))

	return nil
}

// Clear restarts the aplay process, discarding whatever it had buffered.
func (s *ALSASink) Clear() error {
	s.mu.Lock()
	wasRunning := s.running
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}

	s.Stop()
	return s.Start(context.Background())
}

// Config returns the audio configuration.
func (s *ALSASink) Config() Config {
	return s.cfg
}

// Name returns "alsa".
func (s *ALSASink) Name() string {
	return "alsa"
}

// Close releases resources.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns sink statistics.
func (s *ALSASink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Running:        running,
		Backend:        "alsa",
	}
}

var _ SinkWithStats = (*ALSASink)(nil)
