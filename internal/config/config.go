// Package config provides the configuration schema, loader, and capability
// registry for the xvoice transcription pipeline.
package config

import (
	"time"

	"github.com/wbendinelli/xvoice/pkg/transcript"
)

// LogLevel controls log verbosity for the xvoice CLI.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// RecognizerKind selects the speech-to-text backend.
type RecognizerKind string

const (
	// KindWhisperServer talks to a whisper.cpp server over HTTP.
	KindWhisperServer RecognizerKind = "whisper-server"

	// KindWhisperNative runs whisper.cpp in process through its Go bindings.
	KindWhisperNative RecognizerKind = "whisper-native"

	// KindDeepgram uses the hosted Deepgram pre-recorded API.
	KindDeepgram RecognizerKind = "deepgram"

	// KindMock returns canned segments. Useful for dry runs and tests.
	KindMock RecognizerKind = "mock"
)

// IsValid reports whether k is a recognised recognizer kind.
func (k RecognizerKind) IsValid() bool {
	switch k {
	case KindWhisperServer, KindWhisperNative, KindDeepgram, KindMock:
		return true
	}
	return false
}

// Config is the root configuration structure for xvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// absent keys keep the values from [Default].
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Reassembly ReassemblyConfig `yaml:"reassembly"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Polish     PolishConfig     `yaml:"polish"`
	Output     OutputConfig     `yaml:"output"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// PipelineConfig holds audio preparation and chunk scheduling settings.
type PipelineConfig struct {
	// SampleRate is the PCM rate every input is resampled to, in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FFmpegPath overrides the ffmpeg binary used for decoding.
	// Empty means look up "ffmpeg" on PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// PeakNormalize rescales decoded audio so its peak sits near full scale.
	PeakNormalize bool `yaml:"peak_normalize"`

	// NoiseFilter enables spectral-subtraction denoising before recognition.
	NoiseFilter bool `yaml:"noise_filter"`

	// ChunkDurationSec is the length of each transcription chunk, in seconds.
	ChunkDurationSec float64 `yaml:"chunk_duration_sec"`

	// OverlapSec is how far consecutive chunks overlap, in seconds.
	// Must be smaller than chunk_duration_sec.
	OverlapSec float64 `yaml:"overlap_sec"`

	// MinChunkSec drops a trailing chunk shorter than this, in seconds.
	MinChunkSec float64 `yaml:"min_chunk_sec"`

	// Concurrency is the number of chunks transcribed in parallel.
	// Zero picks a default based on the machine's CPU count.
	Concurrency int `yaml:"concurrency"`

	// MaxRetries is how many times a failed chunk is retried.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoffSec is the base delay between retries, in seconds.
	// The delay doubles with each attempt.
	RetryBackoffSec float64 `yaml:"retry_backoff_sec"`

	// ChunkTimeoutSec bounds a single chunk's recognition call, in seconds.
	ChunkTimeoutSec float64 `yaml:"chunk_timeout_sec"`

	// DrainInFlight waits for already-running chunks on cancellation
	// instead of abandoning them.
	DrainInFlight bool `yaml:"drain_in_flight"`
}

// ChunkDuration returns the chunk length as a time.Duration.
func (p *PipelineConfig) ChunkDuration() time.Duration {
	return time.Duration(p.ChunkDurationSec * float64(time.Second))
}

// Overlap returns the chunk overlap as a time.Duration.
func (p *PipelineConfig) Overlap() time.Duration {
	return time.Duration(p.OverlapSec * float64(time.Second))
}

// MinChunk returns the trailing-chunk threshold as a time.Duration.
func (p *PipelineConfig) MinChunk() time.Duration {
	return time.Duration(p.MinChunkSec * float64(time.Second))
}

// RetryBackoff returns the retry base delay as a time.Duration.
func (p *PipelineConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffSec * float64(time.Second))
}

// ChunkTimeout returns the per-chunk recognition deadline as a time.Duration.
func (p *PipelineConfig) ChunkTimeout() time.Duration {
	return time.Duration(p.ChunkTimeoutSec * float64(time.Second))
}

// ReassemblyConfig tunes how overlapping chunk transcripts are merged.
type ReassemblyConfig struct {
	// OverlapFraction is the minimum share of the shorter segment that must
	// fall inside the overlap window for two segments to be duplicates.
	OverlapFraction float64 `yaml:"overlap_fraction"`

	// TextSimilarity is the minimum normalised text similarity for two
	// overlapping segments to be duplicates.
	TextSimilarity float64 `yaml:"text_similarity"`
}

// RecognizerConfig describes one speech-to-text backend.
type RecognizerConfig struct {
	// Kind selects the backend implementation.
	Kind RecognizerKind `yaml:"kind"`

	// BaseURL is the endpoint for HTTP backends (whisper-server, deepgram).
	BaseURL string `yaml:"base_url"`

	// Model names the model to use. For whisper-native this is the path to
	// the ggml model file and is required.
	Model string `yaml:"model"`

	// Language hints the spoken language ("en", "pt", ...). Empty lets the
	// backend auto-detect.
	Language string `yaml:"language"`

	// APIKey authenticates against hosted backends. Supports ${VAR}
	// expansion from the environment.
	APIKey string `yaml:"api_key"`

	// TimeoutSec bounds one recognition round trip, in seconds.
	// Zero keeps the backend's default.
	TimeoutSec float64 `yaml:"timeout_sec"`

	// Temperature is the whisper sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// Breaker configures circuit-breaker protection for this backend.
	Breaker BreakerConfig `yaml:"breaker"`

	// Fallback is tried when this backend fails or its breaker is open.
	// Fallbacks nest: a fallback may declare its own fallback.
	Fallback *RecognizerConfig `yaml:"fallback"`
}

// Timeout returns the recognition deadline as a time.Duration.
func (r *RecognizerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec * float64(time.Second))
}

// BreakerConfig holds circuit-breaker settings for a backend.
// Zero values keep the resilience package defaults.
type BreakerConfig struct {
	// Enabled turns breaker-guarded failover on for this backend chain.
	Enabled bool `yaml:"enabled"`

	// MaxFailures is how many consecutive failures open the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeoutSec is how long an open breaker waits before probing, in
	// seconds.
	ResetTimeoutSec float64 `yaml:"reset_timeout_sec"`
}

// ResetTimeout returns the open-state hold time as a time.Duration.
func (b *BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutSec * float64(time.Second))
}

// PolishConfig controls the transcript post-processing stages.
type PolishConfig struct {
	// Rules enables the deterministic text cleanup stage.
	Rules bool `yaml:"rules"`

	// Glossary lists canonical terms to restore via phonetic matching.
	Glossary []string `yaml:"glossary"`

	// LLM configures the language-model correction stage.
	LLM LLMPolishConfig `yaml:"llm"`
}

// LLMPolishConfig configures LLM-based transcript correction.
type LLMPolishConfig struct {
	// Enabled turns the LLM stage on.
	Enabled bool `yaml:"enabled"`

	// Provider names the LLM backend ("openai", "ollama", ...).
	Provider string `yaml:"provider"`

	// Model is the model identifier, e.g. "gpt-4o-mini".
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Supports ${VAR} expansion
	// from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint. Required for self-hosted
	// backends such as ollama.
	BaseURL string `yaml:"base_url"`

	// ConfidenceFloor sends only segments below this recognizer confidence
	// to the LLM. Segments without a confidence are always sent.
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// Fallback is tried when this provider fails or its breaker is open.
	Fallback *LLMProviderConfig `yaml:"fallback"`
}

// ProviderConfig returns the primary provider settings in the shape the
// registry consumes.
func (c LLMPolishConfig) ProviderConfig() LLMProviderConfig {
	return LLMProviderConfig{
		Provider: c.Provider,
		Model:    c.Model,
		APIKey:   c.APIKey,
		BaseURL:  c.BaseURL,
	}
}

// LLMProviderConfig describes one LLM backend.
type LLMProviderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// APIKey supports ${VAR} expansion from the environment.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OutputConfig controls how finished transcripts are rendered.
type OutputConfig struct {
	// Format selects the rendering: json, markdown, or text.
	Format transcript.Format `yaml:"format"`

	// Dir is the directory transcript files are written to.
	Dir string `yaml:"dir"`

	// Timestamps includes per-segment timestamps in text and markdown output.
	Timestamps bool `yaml:"timestamps"`

	// ParagraphGapSec is the inter-segment silence above which markdown
	// output starts a new paragraph, in seconds.
	ParagraphGapSec float64 `yaml:"paragraph_gap_sec"`
}

// ParagraphGap returns the markdown paragraph threshold as a time.Duration.
func (o *OutputConfig) ParagraphGap() time.Duration {
	return time.Duration(o.ParagraphGapSec * float64(time.Second))
}

// ArchiveConfig controls the local transcript archive.
type ArchiveConfig struct {
	// Enabled turns archiving of finished transcripts on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// RetentionDays prunes archived jobs older than this. Zero keeps
	// everything.
	RetentionDays int `yaml:"retention_days"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint (e.g. ":9090"). Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file or key is given.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			SampleRate:       16000,
			PeakNormalize:    true,
			NoiseFilter:      true,
			ChunkDurationSec: 300,
			OverlapSec:       5,
			MinChunkSec:      0.5,
			Concurrency:      0,
			MaxRetries:       2,
			RetryBackoffSec:  0.5,
			ChunkTimeoutSec:  300,
		},
		Reassembly: ReassemblyConfig{
			OverlapFraction: 0.5,
			TextSimilarity:  0.9,
		},
		Recognizer: RecognizerConfig{
			Kind:    KindWhisperServer,
			BaseURL: "http://localhost:8080",
			Breaker: BreakerConfig{
				MaxFailures:     5,
				ResetTimeoutSec: 30,
			},
		},
		Polish: PolishConfig{
			Rules: true,
			LLM: LLMPolishConfig{
				ConfidenceFloor: 0.5,
			},
		},
		Output: OutputConfig{
			Format:          transcript.FormatText,
			Dir:             ".",
			Timestamps:      true,
			ParagraphGapSec: 2.5,
		},
		Archive: ArchiveConfig{
			Path:          "./data/xvoice.db",
			RetentionDays: 30,
		},
		LogLevel: LogInfo,
	}
}
