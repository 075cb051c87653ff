package protocol

import (
	"encoding/base64"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Width: 640, Height: 480, Format: "jpeg"},
		},
		{
			name:    "move message",
			msgType: TypeMove,
			data:    MoveData{Cmd: "move", Throttle: 200, Steer: 0},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if err != nil {
				t.Fatalf("NewMessage() error = %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestMoveMessageRoundTrip(t *testing.T) {
	msg, err := NewMoveMessage(200, -150)
	if err != nil {
		t.Fatalf("NewMoveMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeMove {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeMove)
	}

	move, err := parsed.GetMoveData()
	if err != nil {
		t.Fatalf("GetMoveData() error = %v", err)
	}
	if move.Cmd != "move" {
		t.Errorf("Cmd = %q, want %q", move.Cmd, "move")
	}
	if move.Throttle != 200 {
		t.Errorf("Throttle = %v, want 200", move.Throttle)
	}
	if move.Steer != -150 {
		t.Errorf("Steer = %v, want -150", move.Steer)
	}
}

func TestFrameMessage(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header

	msg, err := NewFrameMessage(640, 480, jpegData, 1)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}
	if msg.Type != TypeFrame {
		t.Errorf("Type = %v, want %v", msg.Type, TypeFrame)
	}

	frameData, err := msg.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if frameData.Format != "jpeg" {
		t.Errorf("Format = %q, want %q", frameData.Format, "jpeg")
	}

	decoded, err := frameData.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if string(decoded) != string(jpegData) {
		t.Error("decoded frame data does not match original")
	}
}

func TestMicMessage(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	msg, err := NewMicMessage(pcm, 16000)
	if err != nil {
		t.Fatalf("NewMicMessage() error = %v", err)
	}

	mic, err := msg.GetMicData()
	if err != nil {
		t.Fatalf("GetMicData() error = %v", err)
	}
	if mic.Format != "pcm16" {
		t.Errorf("Format = %q, want %q", mic.Format, "pcm16")
	}
	if mic.SampleRate != 16000 {
		t.Errorf("SampleRate = %v, want 16000", mic.SampleRate)
	}
	if mic.Channels != 1 {
		t.Errorf("Channels = %v, want 1", mic.Channels)
	}
	if mic.Data != base64.StdEncoding.EncodeToString(pcm) {
		t.Error("Data is not the base64 encoding of the PCM input")
	}
}

func TestEmoteAndServoMessages(t *testing.T) {
	emote, err := NewEmoteMessage("spin", 1.5)
	if err != nil {
		t.Fatalf("NewEmoteMessage() error = %v", err)
	}
	emoteData, err := emote.GetEmoteData()
	if err != nil {
		t.Fatalf("GetEmoteData() error = %v", err)
	}
	if emoteData.Name != "spin" || emoteData.Duration != 1.5 {
		t.Errorf("emote = %+v, want {spin 1.5}", emoteData)
	}

	servo, err := NewServoMessage(2, 90)
	if err != nil {
		t.Fatalf("NewServoMessage() error = %v", err)
	}
	servoData, err := servo.GetServoData()
	if err != nil {
		t.Fatalf("GetServoData() error = %v", err)
	}
	if servoData.Channel != 2 || servoData.Angle != 90 {
		t.Errorf("servo = %+v, want {2 90}", servoData)
	}
}

func TestPingPong(t *testing.T) {
	ping, err := NewPingMessage("abc123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}
	pingData, err := ping.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "abc123" {
		t.Errorf("ID = %q, want %q", pingData.ID, "abc123")
	}

	pong, err := NewPongMessage("abc123", 1000, 1042)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	pongData, err := pong.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.LatencyMs != 42 {
		t.Errorf("LatencyMs = %v, want 42", pongData.LatencyMs)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	if _, err := ParseMessage([]byte("{not json")); err == nil {
		t.Error("ParseMessage() should fail on malformed input")
	}
}
