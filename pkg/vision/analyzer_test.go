package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func candidateBody(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":"` + text + `"}]}}]}`
}

func TestAnalyzeReturnsCandidateText(t *testing.T) {
	var gotPrompt, gotData, gotMime string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []struct {
					Text       string `json:"text"`
					InlineData struct {
						MimeType string `json:"mime_type"`
						Data     string `json:"data"`
					} `json:"inline_data"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 2 {
			gotPrompt = req.Contents[0].Parts[0].Text
			gotData = req.Contents[0].Parts[1].InlineData.Data
			gotMime = req.Contents[0].Parts[1].InlineData.MimeType
		}
		w.Write([]byte(candidateBody("Clear path ahead. Safe to continue.")))
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", WithEndpoint(srv.URL))
	image := []byte{0xFF, 0xD8, 0xFF, 0xE0}

	got := a.Analyze(context.Background(), image, "image/jpeg")
	if got != "Clear path ahead. Safe to continue." {
		t.Errorf("Analyze: got %q", got)
	}
	if gotPrompt != HazardPrompt {
		t.Errorf("prompt: got %q", gotPrompt)
	}
	if want := base64.StdEncoding.EncodeToString(image); gotData != want {
		t.Errorf("inline data: got %q, want %q", gotData, want)
	}
	if gotMime != "image/jpeg" {
		t.Errorf("mime: got %q", gotMime)
	}
}

func TestAnalyzeStripsDataURLPrefix(t *testing.T) {
	var gotData, gotMime string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []struct {
					InlineData struct {
						MimeType string `json:"mime_type"`
						Data     string `json:"data"`
					} `json:"inline_data"`
				} `json:"parts"`
			} `json:"contents"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotData = req.Contents[0].Parts[1].InlineData.Data
		gotMime = req.Contents[0].Parts[1].InlineData.MimeType
		w.Write([]byte(candidateBody("ok")))
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", WithEndpoint(srv.URL))
	raw := base64.StdEncoding.EncodeToString([]byte("frame"))
	image := []byte("data:image/png;base64," + raw)

	if got := a.Analyze(context.Background(), image, ""); got != "ok" {
		t.Fatalf("Analyze: got %q", got)
	}
	if gotData != raw {
		t.Errorf("inline data: got %q, want %q (prefix must be stripped)", gotData, raw)
	}
	if gotMime != "image/png" {
		t.Errorf("mime: got %q, want image/png (taken from data URL)", gotMime)
	}
}

func TestAnalyzeFailureStrings(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
		{
			name: "error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"error":{"message":"invalid image","code":400}}`))
			},
		},
		{
			name: "empty candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"candidates":[]}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			a := NewAnalyzer("test-key", WithEndpoint(srv.URL))
			got := a.Analyze(context.Background(), []byte{1, 2, 3}, "image/jpeg")
			if !strings.HasPrefix(got, "scene analysis failed:") {
				t.Errorf("got %q, want failure string", got)
			}
		})
	}
}

func TestAnalyzeInvalidInputNeverRaises(t *testing.T) {
	a := NewAnalyzer("test-key", WithEndpoint("http://127.0.0.1:1"))

	if got := a.Analyze(context.Background(), nil, ""); !strings.HasPrefix(got, "scene analysis failed:") {
		t.Errorf("empty image: got %q, want failure string", got)
	}
	if got := a.Analyze(context.Background(), []byte{1}, ""); !strings.HasPrefix(got, "scene analysis failed:") {
		t.Errorf("unreachable endpoint: got %q, want failure string", got)
	}

	missing := NewAnalyzer("")
	if got := missing.Analyze(context.Background(), []byte{1}, ""); !strings.HasPrefix(got, "scene analysis failed:") {
		t.Errorf("missing key: got %q, want failure string", got)
	}
}

type staticFrames struct {
	data []byte
	mime string
	err  error
}

func (s staticFrames) LatestFrame() ([]byte, string, error) { return s.data, s.mime, s.err }

func TestAnalyzeLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(candidateBody("all clear")))
	}))
	defer srv.Close()

	a := NewAnalyzer("test-key", WithEndpoint(srv.URL))

	if got := a.AnalyzeLatest(context.Background(), staticFrames{data: []byte{1}, mime: "image/jpeg"}); got != "all clear" {
		t.Errorf("AnalyzeLatest: got %q", got)
	}

	noFrame := staticFrames{err: errors.New("rover offline")}
	if got := a.AnalyzeLatest(context.Background(), noFrame); !strings.HasPrefix(got, "scene analysis failed:") {
		t.Errorf("no frame: got %q, want failure string", got)
	}
}
