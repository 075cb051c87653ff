// Package protocol defines the WebSocket message types exchanged between
// a rover and the bridge hub.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Rover → Hub messages
	TypeFrame MessageType = "frame" // Camera frame
	TypeMic   MessageType = "mic"   // Microphone audio
	TypeState MessageType = "state" // Rover state

	// Hub → Rover messages
	TypeMove  MessageType = "move"  // Drive command
	TypeEmote MessageType = "emote" // Play emote animation
	TypeServo MessageType = "servo" // Servo position

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Rover → Hub Message Types
// =============================================================================

// FrameData contains a camera frame
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// MicData contains microphone audio
type MicData struct {
	Format     string `json:"format"`      // "pcm16"
	SampleRate int    `json:"sample_rate"` // e.g., 16000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
}

// StateData contains rover state information
type StateData struct {
	Online   bool    `json:"online"`
	Battery  float64 `json:"battery,omitempty"` // Volts
	Throttle int     `json:"throttle"`
	Steer    int     `json:"steer"`
}

// =============================================================================
// Hub → Rover Message Types
// =============================================================================

// MoveData contains a drive command
type MoveData struct {
	Cmd      string `json:"cmd"` // always "move"
	Throttle int    `json:"throttle"`
	Steer    int    `json:"steer"`
}

// EmoteData triggers an emote animation
type EmoteData struct {
	Name     string  `json:"name"`               // "happy", "spin", "nod", etc.
	Duration float64 `json:"duration,omitempty"` // Seconds, 0 for default
}

// ServoData sets a servo position
type ServoData struct {
	Channel int `json:"channel"`
	Angle   int `json:"angle"` // Degrees, 0-180
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
