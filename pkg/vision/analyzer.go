// Package vision provides one-shot scene analysis of camera frames via
// Gemini. The analyzer is stateless: one frame in, one text summary out,
// and any failure comes back as a readable string rather than an error.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roverlink/go-rover/internal/httpc"
)

// HazardPrompt is the fixed survey prompt sent with every frame.
const HazardPrompt = "You are the onboard camera of a small ground rover. " +
	"Describe the scene ahead in two or three short sentences, calling out " +
	"any obstacles, drops, or hazards in the drive path, and say whether it " +
	"is safe to continue forward."

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

// FrameProvider supplies the most recent camera frame for analysis.
type FrameProvider interface {
	LatestFrame() (data []byte, mimeType string, err error)
}

// Analyzer calls Gemini Flash to describe an image.
type Analyzer struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithEndpoint overrides the generateContent URL.
func WithEndpoint(url string) Option {
	return func(a *Analyzer) { a.endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Analyzer) { a.client = c }
}

// NewAnalyzer creates a scene analyzer.
func NewAnalyzer(apiKey string, opts ...Option) *Analyzer {
	a := &Analyzer{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   httpc.NewClient(15 * time.Second),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze sends one frame with the hazard prompt and returns the model's
// text, or a formatted failure description. It never panics and never
// returns an error to the caller.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, mimeType string) string {
	if a.apiKey == "" {
		return failure("GOOGLE_API_KEY not set")
	}
	if len(image) == 0 {
		return failure("empty image")
	}

	b64, mime := normalizeImage(image, mimeType)

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": HazardPrompt},
					{"inline_data": map[string]string{"mime_type": mime, "data": b64}},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature":     0.7,
			"maxOutputTokens": 1000,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Sprintf("encode request: %v", err))
	}

	url := fmt.Sprintf("%s?key=%s", a.endpoint, a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return failure(fmt.Sprintf("API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return failure(fmt.Sprintf("decode response: %v", err))
	}
	if result.Error.Message != "" {
		return failure(result.Error.Message)
	}
	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		if text := strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text); text != "" {
			return text
		}
	}

	return failure("no response from model")
}

// AnalyzeLatest pulls the most recent frame from the provider and
// analyzes it.
func (a *Analyzer) AnalyzeLatest(ctx context.Context, frames FrameProvider) string {
	data, mime, err := frames.LatestFrame()
	if err != nil {
		return failure(fmt.Sprintf("no frame available: %v", err))
	}
	return a.Analyze(ctx, data, mime)
}

// normalizeImage returns base64 payload and mime type, stripping a
// data-URL wrapper ("data:image/jpeg;base64,....") when present.
func normalizeImage(image []byte, mimeType string) (string, string) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	s := string(image)
	if strings.HasPrefix(s, "data:") {
		header, rest, found := strings.Cut(s, ",")
		if found {
			if mt, ok := strings.CutSuffix(strings.TrimPrefix(header, "data:"), ";base64"); ok && mt != "" {
				mimeType = mt
			}
			return rest, mimeType
		}
	}

	return base64.StdEncoding.EncodeToString(image), mimeType
}

func failure(reason string) string {
	return "scene analysis failed: " + reason
}

// generateResponse is the generateContent response shape.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// truncate shortens a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
