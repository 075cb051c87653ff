package audioio

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := CaptureConfig()
	cfg.Backend = BackendMock
	cfg.BufferDuration = 5 * time.Millisecond
	return cfg
}

func TestMockSourceStream(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case chunk := <-src.Stream():
		cfg := testConfig()
		if len(chunk.Samples) != cfg.BufferSize() {
			t.Errorf("chunk size: got %d, want %d", len(chunk.Samples), cfg.BufferSize())
		}
		if chunk.SampleRate != 16000 {
			t.Errorf("sample rate: got %d, want 16000", chunk.SampleRate)
		}
		// Sine wave should not be all zeros.
		allZero := true
		for _, s := range chunk.Samples {
			if s != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			t.Error("expected non-silent chunk from sine wave source")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}
}

func TestMockSourceStopIdempotent(t *testing.T) {
	src := NewMockSource(testConfig(), nil)

	// Stop before start must not panic.
	if err := src.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestMockSourceClosedCannotRestart(t *testing.T) {
	src := NewMockSource(testConfig(), nil)

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Start(context.Background()); err == nil {
		t.Error("expected error starting a closed source")
	}
}

func TestMockSinkRecordsWrites(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)
	defer sink.Close()

	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	chunk := AudioChunk{
		Samples:    make([]int16, 320),
		SampleRate: 24000,
		Channels:   1,
	}
	for i := 0; i < 3; i++ {
		if err := sink.Write(context.Background(), chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if got := len(sink.Written()); got != 3 {
		t.Errorf("written chunks: got %d, want 3", got)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 3 {
		t.Errorf("stats chunks: got %d, want 3", stats.ChunksWritten)
	}
	if stats.SamplesWritten != 960 {
		t.Errorf("stats samples: got %d, want 960", stats.SamplesWritten)
	}

	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := len(sink.Written()); got != 0 {
		t.Errorf("written after Clear: got %d, want 0", got)
	}
}

func TestMockSinkRejectsWhenStopped(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)

	chunk := AudioChunk{Samples: []int16{1, 2, 3}, SampleRate: 24000, Channels: 1}
	if err := sink.Write(context.Background(), chunk); err == nil {
		t.Error("expected error writing before Start")
	}
}

func TestAudioChunkDuration(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		rate    int
		want    time.Duration
	}{
		{"one second at 24k", 24000, 24000, time.Second},
		{"half second at 16k", 8000, 16000, 500 * time.Millisecond},
		{"4096 frame at 16k", 4096, 16000, 256 * time.Millisecond},
		{"zero rate", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := AudioChunk{
				Samples:    make([]int16, tt.samples),
				SampleRate: tt.rate,
				Channels:   1,
			}
			if got := c.Duration(); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAudioChunkBytesRoundTrip(t *testing.T) {
	c := AudioChunk{Samples: []int16{0, 100, -100, 32767, -32768}, SampleRate: 16000, Channels: 1}

	var back AudioChunk
	back.FromBytes(c.Bytes(), 16000, 1)

	if len(back.Samples) != len(c.Samples) {
		t.Fatalf("length mismatch: %d vs %d", len(back.Samples), len(c.Samples))
	}
	for i := range c.Samples {
		if back.Samples[i] != c.Samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, back.Samples[i], c.Samples[i])
		}
	}
}
