package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// KnownLLMProviders lists provider names the any-llm gateway is known to
// accept. Used by [Validate] to warn about likely typos; unknown names are
// not rejected because the gateway may support more.
var KnownLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the [Default] values and
// validates the result. Keys absent from the YAML keep their defaults, so an
// empty reader yields a working configuration. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnvOverrides(cfg)
	expandSecrets(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets XVOICE_* environment variables override the most
// commonly scripted settings without editing the config file.
func applyEnvOverrides(cfg *Config) {
	overrideString((*string)(&cfg.LogLevel), "XVOICE_LOG_LEVEL")
	overrideString(&cfg.Recognizer.BaseURL, "XVOICE_RECOGNIZER_BASE_URL")
	overrideString(&cfg.Recognizer.APIKey, "XVOICE_RECOGNIZER_API_KEY")
	overrideString(&cfg.Polish.LLM.APIKey, "XVOICE_LLM_API_KEY")
	overrideString(&cfg.Output.Dir, "XVOICE_OUTPUT_DIR")
	overrideString(&cfg.Archive.Path, "XVOICE_ARCHIVE_PATH")
	overrideString(&cfg.Telemetry.MetricsAddr, "XVOICE_METRICS_ADDR")
	overrideInt(&cfg.Pipeline.Concurrency, "XVOICE_CONCURRENCY")
}

func overrideString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func overrideInt(target *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*target = n
}

// expandSecrets resolves ${VAR} references in api_key fields so secrets can
// stay out of config files.
func expandSecrets(cfg *Config) {
	for rc := &cfg.Recognizer; rc != nil; rc = rc.Fallback {
		rc.APIKey = os.ExpandEnv(rc.APIKey)
	}
	cfg.Polish.LLM.APIKey = os.ExpandEnv(cfg.Polish.LLM.APIKey)
	if fb := cfg.Polish.LLM.Fallback; fb != nil {
		fb.APIKey = os.ExpandEnv(fb.APIKey)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Pipeline
	p := &cfg.Pipeline
	if p.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate must be positive, got %d", p.SampleRate))
	}
	if p.ChunkDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_duration_sec must be positive, got %g", p.ChunkDurationSec))
	}
	if p.OverlapSec < 0 {
		errs = append(errs, fmt.Errorf("pipeline.overlap_sec cannot be negative, got %g", p.OverlapSec))
	} else if p.ChunkDurationSec > 0 && p.OverlapSec >= p.ChunkDurationSec {
		errs = append(errs, fmt.Errorf("pipeline.overlap_sec %g must be smaller than chunk_duration_sec %g", p.OverlapSec, p.ChunkDurationSec))
	}
	if p.MinChunkSec < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_chunk_sec cannot be negative, got %g", p.MinChunkSec))
	}
	if p.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency cannot be negative, got %d", p.Concurrency))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries cannot be negative, got %d", p.MaxRetries))
	}
	if p.RetryBackoffSec < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_backoff_sec cannot be negative, got %g", p.RetryBackoffSec))
	}
	if p.ChunkTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_timeout_sec cannot be negative, got %g", p.ChunkTimeoutSec))
	}

	// Reassembly
	if f := cfg.Reassembly.OverlapFraction; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("reassembly.overlap_fraction %g is out of range [0, 1]", f))
	}
	if s := cfg.Reassembly.TextSimilarity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("reassembly.text_similarity %g is out of range [0, 1]", s))
	}

	// Recognizer chain
	errs = append(errs, validateRecognizer("recognizer", &cfg.Recognizer)...)

	// Polish
	if f := cfg.Polish.LLM.ConfidenceFloor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("polish.llm.confidence_floor %g is out of range [0, 1]", f))
	}
	if cfg.Polish.LLM.Enabled {
		if cfg.Polish.LLM.Provider == "" {
			errs = append(errs, errors.New("polish.llm.provider is required when polish.llm is enabled"))
		}
		if cfg.Polish.LLM.Model == "" {
			errs = append(errs, errors.New("polish.llm.model is required when polish.llm is enabled"))
		}
		validateLLMProviderName("polish.llm.provider", cfg.Polish.LLM.Provider)
		if cfg.Polish.LLM.APIKey == "" && cfg.Polish.LLM.BaseURL == "" {
			slog.Warn("polish.llm has neither api_key nor base_url configured; hosted providers will reject requests")
		}
	}
	if fb := cfg.Polish.LLM.Fallback; fb != nil {
		if fb.Provider == "" {
			errs = append(errs, errors.New("polish.llm.fallback.provider is required"))
		}
		if fb.Model == "" {
			errs = append(errs, errors.New("polish.llm.fallback.model is required"))
		}
		validateLLMProviderName("polish.llm.fallback.provider", fb.Provider)
	}

	// Output
	if !cfg.Output.Format.IsValid() {
		errs = append(errs, fmt.Errorf("output.format %q is invalid; valid values: json, markdown, text", cfg.Output.Format))
	}
	if cfg.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if cfg.Output.ParagraphGapSec < 0 {
		errs = append(errs, fmt.Errorf("output.paragraph_gap_sec cannot be negative, got %g", cfg.Output.ParagraphGapSec))
	}

	// Archive
	if cfg.Archive.Enabled && cfg.Archive.Path == "" {
		errs = append(errs, errors.New("archive.path is required when archive is enabled"))
	}
	if cfg.Archive.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("archive.retention_days cannot be negative, got %d", cfg.Archive.RetentionDays))
	}

	// Logging
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

// validateRecognizer checks one backend block and recurses into its fallback.
// prefix names the block in error messages ("recognizer",
// "recognizer.fallback", ...).
func validateRecognizer(prefix string, rc *RecognizerConfig) []error {
	var errs []error

	switch {
	case rc.Kind == "":
		errs = append(errs, fmt.Errorf("%s.kind is required", prefix))
	case !rc.Kind.IsValid():
		errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: whisper-server, whisper-native, deepgram, mock", prefix, rc.Kind))
	case rc.Kind == KindWhisperServer && rc.BaseURL == "":
		errs = append(errs, fmt.Errorf("%s.base_url is required when kind is whisper-server", prefix))
	case rc.Kind == KindWhisperNative && rc.Model == "":
		errs = append(errs, fmt.Errorf("%s.model is required when kind is whisper-native (path to a ggml model file)", prefix))
	case rc.Kind == KindDeepgram && rc.APIKey == "":
		errs = append(errs, fmt.Errorf("%s.api_key is required when kind is deepgram", prefix))
	}

	if rc.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout_sec cannot be negative, got %g", prefix, rc.TimeoutSec))
	}
	if rc.Temperature < 0 || rc.Temperature > 1 {
		errs = append(errs, fmt.Errorf("%s.temperature %g is out of range [0, 1]", prefix, rc.Temperature))
	}
	if rc.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.breaker.max_failures cannot be negative, got %d", prefix, rc.Breaker.MaxFailures))
	}
	if rc.Breaker.ResetTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("%s.breaker.reset_timeout_sec cannot be negative, got %g", prefix, rc.Breaker.ResetTimeoutSec))
	}

	if rc.Fallback != nil {
		errs = append(errs, validateRecognizer(prefix+".fallback", rc.Fallback)...)
	}
	return errs
}

// validateLLMProviderName logs a warning if name is non-empty and not in the
// [KnownLLMProviders] list.
func validateLLMProviderName(field, name string) {
	if name == "" || slices.Contains(KnownLLMProviders, name) {
		return
	}
	slog.Warn("unknown llm provider name; may be a typo or a provider this list lags behind",
		"field", field,
		"name", name,
		"known", KnownLLMProviders,
	)
}
