// Package whisper provides whisper.cpp-backed implementations of the
// recognize.Recognizer interface.
//
// Server talks to a running whisper-server binary (which exposes a REST API
// at POST /inference) over HTTP: each audio window is wrapped in a WAV
// container, uploaded as multipart/form-data, and the verbose JSON response
// is parsed into timestamped segments. Native links whisper.cpp directly
// through its CGO bindings and needs no server process.
//
// Usage:
//
//	rec, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	    whisper.WithTemperature(0.2),
//	)
//	segs, err := rec.Recognize(ctx, samples, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wbendinelli/xvoice/pkg/media"
	"github.com/wbendinelli/xvoice/pkg/recognize"
)

const (
	defaultLanguage = "en"

	// defaultTimeout bounds a single inference round trip. Chunks may carry
	// several minutes of audio, and whisper-server transcribes slower than
	// real time on CPU hosts.
	defaultTimeout = 5 * time.Minute

	// responseFormat selects the verbose JSON document so the server reports
	// per-segment timestamps instead of a single text blob.
	responseFormat = "verbose_json"
)

// Compile-time assertion that Server implements recognize.Recognizer.
var _ recognize.Recognizer = (*Server)(nil)

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithModel sets the model identifier forwarded to the whisper-server
// instance (e.g., "base.en", "small"). When empty the server uses whichever
// model it was started with — this is the default.
func WithModel(model string) ServerOption {
	return func(s *Server) {
		s.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent with every inference
// request (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) ServerOption {
	return func(s *Server) {
		s.language = lang
	}
}

// WithTemperature sets the sampling temperature forwarded to the server.
// Zero (the default) keeps decoding deterministic and is omitted from the
// request.
func WithTemperature(t float64) ServerOption {
	return func(s *Server) {
		s.temperature = t
	}
}

// WithTimeout replaces the default 5 minute cap on a single inference round
// trip. It is ignored when WithHTTPClient supplies a custom client.
func WithTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithHTTPClient replaces the default HTTP client, e.g. to share a transport
// or to install test hooks.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) {
		s.httpClient = c
	}
}

// Server implements recognize.Recognizer backed by a whisper-server HTTP
// endpoint. It holds no per-call state, so a single Server may serve many
// goroutines at once.
type Server struct {
	baseURL     string
	model       string
	language    string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
}

// NewServer creates a Server that connects to the whisper-server instance at
// baseURL (e.g., "http://localhost:8080"). baseURL must be non-empty.
// Functional options may be provided to override defaults.
func NewServer(baseURL string, opts ...ServerOption) (*Server, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: baseURL must not be empty")
	}
	s := &Server{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.timeout}
	}
	return s, nil
}

// Name identifies this backend in logs and transcript metadata.
func (s *Server) Name() string { return "whisper-server" }

// Recognize uploads the samples to the whisper-server /inference endpoint
// and returns the recognized segments with window-relative timestamps.
// An empty window returns no segments without touching the network.
func (s *Server) Recognize(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	wav := media.EncodeWAV(samples, sampleRate)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	if err := mw.WriteField("response_format", responseFormat); err != nil {
		return nil, fmt.Errorf("whisper: write response_format field: %w", err)
	}

	// Optional hint fields.
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if s.temperature > 0 {
		if err := mw.WriteField("temperature", strconv.FormatFloat(s.temperature, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("whisper: write temperature field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := s.baseURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.toSegments(windowDuration(len(samples), sampleRate)), nil
}

// inferenceResponse mirrors the verbose JSON document whisper-server emits
// when response_format=verbose_json is requested. Older builds only populate
// the top-level text field.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// toSegments maps the response to recognize.Segment values, skipping empty
// spans. When the server reported no segment list, the whole text document
// becomes a single segment spanning the full window.
func (r inferenceResponse) toSegments(window time.Duration) []recognize.Segment {
	segs := make([]recognize.Segment, 0, len(r.Segments))
	for _, rs := range r.Segments {
		text := strings.TrimSpace(rs.Text)
		if text == "" {
			continue
		}
		segs = append(segs, recognize.Segment{
			Text:  text,
			Start: time.Duration(rs.Start * float64(time.Second)),
			End:   time.Duration(rs.End * float64(time.Second)),
		})
	}
	if len(segs) == 0 {
		if text := strings.TrimSpace(r.Text); text != "" {
			segs = append(segs, recognize.Segment{Text: text, End: window})
		}
	}
	return segs
}

// windowDuration returns the playing time of a sample window.
func windowDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}
