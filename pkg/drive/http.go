package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/roverlink/go-rover/internal/httpc"
)

// HTTPSink delivers motor commands to the rover daemon's HTTP API.
type HTTPSink struct {
	BaseURL string
	client  *http.Client
}

// NewHTTPSink creates a sink posting to the daemon at addr (host:port).
func NewHTTPSink(addr string) *HTTPSink {
	return &HTTPSink{
		BaseURL: fmt.Sprintf("http://%s", addr),
		client:  httpc.NewClient(httpc.DefaultConnectTimeout),
	}
}

type moveRequest struct {
	Cmd      string `json:"cmd"`
	Throttle int    `json:"throttle"`
	Steer    int    `json:"steer"`
}

type moveResponse struct {
	Status string `json:"status"`
}

// Move posts {"cmd":"move",...} to the daemon and returns its status.
func (s *HTTPSink) Move(ctx context.Context, cmd Command) (string, error) {
	body, err := json.Marshal(moveRequest{
		Cmd:      "move",
		Throttle: cmd.Throttle,
		Steer:    cmd.Steer,
	})
	if err != nil {
		return "", fmt.Errorf("marshal move command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/move", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build move request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("move request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("move rejected (status %d): %s", resp.StatusCode, string(b))
	}

	var out moveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Daemon replied 200 without a body; treat as success.
		return "ok", nil
	}
	if out.Status == "" {
		return "ok", nil
	}
	return out.Status, nil
}

var _ Sink = (*HTTPSink)(nil)
