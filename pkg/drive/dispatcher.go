package drive

import (
	"context"
	"fmt"
	"log/slog"
)

// Dispatcher executes motor commands against a Sink and converts every
// outcome into a result string. The remote model must always receive a
// tool response, so sink failures never propagate as errors.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given sink.
func NewDispatcher(sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sink: sink, logger: logger}
}

// Dispatch maps the moveRobot arguments to a Command, sends it to the
// sink and returns the status string. Any failure, including a panic in
// the sink, becomes a result string.
func (d *Dispatcher) Dispatch(ctx context.Context, args map[string]any) (result string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command sink panicked", "panic", r)
			result = fmt.Sprintf("error: %v", r)
		}
	}()

	direction, _ := args["direction"].(string)
	speed := intArg(args, "speed")

	cmd := FromDirection(direction, speed)

	d.logger.Debug("dispatching motor command",
		"direction", direction,
		"throttle", cmd.Throttle,
		"steer", cmd.Steer,
	)

	status, err := d.sink.Move(ctx, cmd)
	if err != nil {
		d.logger.Warn("command sink failed", "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	if status == "" {
		status = "ok"
	}
	return status
}

// intArg extracts a numeric argument. JSON numbers decode as float64,
// but be lenient about ints too.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
