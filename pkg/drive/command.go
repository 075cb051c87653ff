// Package drive translates moveRobot tool invocations into motor commands
// and delivers them to the device command sink.
package drive

import "context"

// Speed limits for motor commands.
const (
	MaxSpeed     = 255
	DefaultSpeed = 200
)

// Command is a differential drive command. Throttle drives forward and
// backward, steer turns in place. Only one axis is ever set by the
// direction mapping.
type Command struct {
	Throttle int `json:"throttle"` // -255 to 255
	Steer    int `json:"steer"`    // -255 to 255
}

// Stop is the all-zero command.
var Stop = Command{}

// FromDirection maps a spoken direction and speed to a Command.
// Speed 0 (absent in the tool call) defaults to 200. Unknown
// directions map to the stop command rather than an error, since the
// model is trusted but not strictly validated.
func FromDirection(direction string, speed int) Command {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	speed = clampSpeed(speed)

	switch direction {
	case "forward":
		return Command{Throttle: speed}
	case "backward":
		return Command{Throttle: -speed}
	case "left":
		return Command{Steer: -speed}
	case "right":
		return Command{Steer: speed}
	default:
		// Includes "stop".
		return Stop
	}
}

func clampSpeed(v int) int {
	if v > MaxSpeed {
		return MaxSpeed
	}
	return v
}

// Sink accepts motor commands on behalf of the device layer.
// Implementations return a short human/model-readable status string.
type Sink interface {
	Move(ctx context.Context, cmd Command) (string, error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, cmd Command) (string, error)

// Move calls f.
func (f SinkFunc) Move(ctx context.Context, cmd Command) (string, error) {
	return f(ctx, cmd)
}
