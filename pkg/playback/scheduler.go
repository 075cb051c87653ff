// Package playback schedules decoded model speech on the output device
// so that chunks arriving at irregular intervals play back to back with
// no gap or overlap.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roverlink/go-rover/pkg/audioio"
)

// ErrStopped is returned when audio is enqueued after teardown.
var ErrStopped = errors.New("playback: scheduler stopped")

// entry is one scheduled buffer. due flips under the scheduler mutex
// once the buffer's timer has fired.
type entry struct {
	chunk audioio.AudioChunk
	start time.Time
	due   bool
}

// Scheduler owns one output sink and a single playback cursor. Each
// buffer starts at max(now, cursor); the cursor then moves to the
// buffer's end. On underrun the next buffer starts immediately, a
// brief audible gap, never reordering or drift correction.
type Scheduler struct {
	sink   audioio.Sink
	clock  Clock
	logger *slog.Logger

	mu        sync.Mutex
	nextStart time.Time
	queue     []*entry          // arrival order, not yet written
	pending   map[*entry]func() // cancel funcs for queued timers
	draining  bool
	stopped   bool

	stopOnce sync.Once

	underruns int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the device clock (tests).
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler creates a scheduler over the given sink. The sink must
// already be started.
func NewScheduler(sink audioio.Sink, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		sink:    sink,
		clock:   realClock{},
		logger:  logger.With("component", "playback"),
		pending: make(map[*entry]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextStart = s.clock.Now()
	return s
}

// Enqueue schedules one decoded PCM16 buffer for gap-free playback.
// Buffers play strictly in arrival order.
func (s *Scheduler) Enqueue(pcm []byte) error {
	var chunk audioio.AudioChunk
	cfg := s.sink.Config()
	chunk.FromBytes(pcm, cfg.SampleRate, cfg.Channels)

	d := chunk.Duration()
	if d == 0 {
		return nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}

	now := s.clock.Now()
	start := s.nextStart
	if now.After(start) {
		// Underrun: device clock ran past the cursor.
		s.underruns++
		start = now
	}
	s.nextStart = start.Add(d)

	e := &entry{chunk: chunk, start: start}
	s.queue = append(s.queue, e)
	cancel := s.clock.AfterFunc(start.Sub(now), func() { s.release(e) })
	s.pending[e] = cancel
	s.mu.Unlock()

	return nil
}

// release marks e ready and drains due buffers from the head of the
// queue. Only one goroutine drains at a time, so a stalled sink write
// delays later buffers but never reorders them.
func (s *Scheduler) release(e *entry) {
	s.mu.Lock()
	e.due = true
	delete(s.pending, e)
	if s.draining || s.stopped {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && s.queue[0].due {
		head := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.sink.Write(context.Background(), head.chunk); err != nil {
			s.logger.Warn("playback write failed", "error", err)
		}

		s.mu.Lock()
		if s.stopped {
			break
		}
	}
	s.draining = false
	s.mu.Unlock()
}

// NextStart returns the cursor position (start of the next buffer).
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Underruns reports how often the device clock overtook the cursor.
func (s *Scheduler) Underruns() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}

// Flush discards everything not yet written and resets the cursor.
// Used when the operator interrupts model speech.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	for e, cancel := range s.pending {
		cancel()
		delete(s.pending, e)
	}
	s.queue = nil
	s.nextStart = s.clock.Now()
	s.mu.Unlock()

	s.sink.Clear()
}

// Stop cancels pending buffers and releases the sink. Idempotent and
// safe to call concurrently; the sink is stopped exactly once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		for e, cancel := range s.pending {
			cancel()
			delete(s.pending, e)
		}
		s.queue = nil
		s.mu.Unlock()

		s.sink.Stop()
	})
}
