// Package capture acquires microphone audio, chunks it into fixed-size
// frames and hands each frame to the session's outbound sink. Capture
// is push-driven by the audio backend; when the sink cannot keep up, at
// most one frame is held and older frames are dropped, favoring recency
// over completeness.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roverlink/go-rover/pkg/audioio"
	"github.com/roverlink/go-rover/pkg/pcm"
)

// DefaultFrameSamples is the reference outbound frame size.
const DefaultFrameSamples = 4096

// Frame is one fixed-length chunk of captured audio, immutable once
// assembled. Seq is its monotonic position in the capture stream.
type Frame struct {
	Seq int64
	PCM []byte // PCM16 little-endian
}

// FrameSink receives assembled frames in capture order.
type FrameSink func(frame Frame) error

// Pipeline assembles source chunks into fixed-size frames.
type Pipeline struct {
	src          audioio.Source
	sink         FrameSink
	frameSamples int
	logger       *slog.Logger

	mu      sync.Mutex
	running bool

	// pending holds at most one assembled frame awaiting delivery.
	pending chan Frame

	seq     atomic.Int64
	dropped atomic.Int64

	wg sync.WaitGroup
}

// New creates a pipeline from src to sink. frameSamples <= 0 selects
// the default of 4096 samples.
func New(src audioio.Source, sink FrameSink, frameSamples int, logger *slog.Logger) *Pipeline {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		src:          src,
		sink:         sink,
		frameSamples: frameSamples,
		logger:       logger.With("component", "capture"),
	}
}

// Start acquires the microphone and begins framing. Calling Start on a
// running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}

	if err := p.src.Start(ctx); err != nil {
		p.mu.Unlock()
		return err
	}

	p.running = true
	p.pending = make(chan Frame, 1)
	p.mu.Unlock()

	p.wg.Add(2)
	go p.assembleLoop()
	go p.deliverLoop()

	p.logger.Info("capture started",
		"frame_samples", p.frameSamples,
		"sample_rate", p.src.Config().SampleRate,
	)

	return nil
}

// assembleLoop accumulates source chunks into fixed-size frames.
func (p *Pipeline) assembleLoop() {
	defer p.wg.Done()

	var buf []int16
	for chunk := range p.src.Stream() {
		buf = append(buf, chunk.Samples...)
		for len(buf) >= p.frameSamples {
			frame := Frame{
				Seq: p.seq.Add(1) - 1,
				PCM: pcm.SamplesToBytes(buf[:p.frameSamples]),
			}
			buf = buf[p.frameSamples:]
			p.offer(frame)
		}
	}
	close(p.pending)
}

// offer places a frame in the single pending slot, evicting a stale
// frame if delivery has fallen behind.
func (p *Pipeline) offer(frame Frame) {
	select {
	case p.pending <- frame:
		return
	default:
	}

	// Slot occupied: drop the older frame, keep the newer one.
	select {
	case <-p.pending:
		p.dropped.Add(1)
		p.logger.Debug("capture backlog, dropping stale frame")
	default:
	}

	select {
	case p.pending <- frame:
	default:
	}
}

// deliverLoop hands pending frames to the sink in order.
func (p *Pipeline) deliverLoop() {
	defer p.wg.Done()

	for frame := range p.pending {
		if err := p.sink(frame); err != nil {
			p.logger.Debug("frame sink rejected frame", "seq", frame.Seq, "error", err)
		}
	}
}

// Dropped reports how many frames were evicted under back-pressure.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Stop releases the microphone and drains the workers. Safe to call
// multiple times and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.src.Stop()
	p.wg.Wait()

	p.logger.Info("capture stopped", "dropped_frames", p.dropped.Load())
}
