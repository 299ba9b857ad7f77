// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// prerecorded transcription REST API. It implements the recognize.Recognizer
// interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wbendinelli/xvoice/pkg/media"
	"github.com/wbendinelli/xvoice/pkg/recognize"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
	defaultTimeout   = 5 * time.Minute
)

// Compile-time assertion that Client implements recognize.Recognizer.
var _ recognize.Recognizer = (*Client)(nil)

// Option is a functional option for configuring the Deepgram Client.
type Option func(*Client)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(c *Client) {
		c.language = language
	}
}

// WithBaseURL replaces the public Deepgram endpoint, e.g. for self-hosted
// deployments or tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements recognize.Recognizer backed by the Deepgram prerecorded
// API. It holds no per-call state and is safe for concurrent use.
type Client struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c, nil
}

// Name identifies this backend in logs and transcript metadata.
func (c *Client) Name() string { return "deepgram" }

// Recognize uploads the samples as a WAV document to the Deepgram listen
// endpoint and maps the returned utterances to window-relative segments.
func (c *Client) Recognize(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	reqURL, err := c.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	wav := media.EncodeWAV(samples, sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}

	var result listenResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}

	return result.toSegments(), nil
}

// buildURL constructs the listen endpoint URL with transcription parameters.
func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", c.language)
	q.Set("punctuate", "true")
	q.Set("utterances", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listenResponse is the JSON structure returned by the Deepgram prerecorded
// endpoint. With utterances enabled the results carry one entry per detected
// utterance; the channel alternatives remain as a fallback for accounts or
// deployments where the feature is unavailable.
type listenResponse struct {
	Results struct {
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
			Transcript string  `json:"transcript"`
		} `json:"utterances"`
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// toSegments maps the response to recognize.Segment values. Utterances are
// preferred; otherwise the first channel alternative becomes one segment
// spanning its word range.
func (r listenResponse) toSegments() []recognize.Segment {
	if len(r.Results.Utterances) > 0 {
		segs := make([]recognize.Segment, 0, len(r.Results.Utterances))
		for _, u := range r.Results.Utterances {
			text := strings.TrimSpace(u.Transcript)
			if text == "" {
				continue
			}
			segs = append(segs, recognize.Segment{
				Text:       text,
				Start:      time.Duration(u.Start * float64(time.Second)),
				End:        time.Duration(u.End * float64(time.Second)),
				Confidence: u.Confidence,
			})
		}
		return segs
	}

	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return nil
	}
	alt := r.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil
	}

	seg := recognize.Segment{Text: text, Confidence: alt.Confidence}
	if n := len(alt.Words); n > 0 {
		seg.Start = time.Duration(alt.Words[0].Start * float64(time.Second))
		seg.End = time.Duration(alt.Words[n-1].End * float64(time.Second))
	}
	return []recognize.Segment{seg}
}
