// Command xvoice transcribes audio and video recordings into timestamped
// text files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/wbendinelli/xvoice/internal/archive"
	"github.com/wbendinelli/xvoice/internal/config"
	"github.com/wbendinelli/xvoice/internal/observe"
	"github.com/wbendinelli/xvoice/internal/pipeline"
	"github.com/wbendinelli/xvoice/internal/polish"
	"github.com/wbendinelli/xvoice/internal/polish/llmpolish"
	"github.com/wbendinelli/xvoice/internal/polish/phonetic"
	"github.com/wbendinelli/xvoice/internal/resilience"
	"github.com/wbendinelli/xvoice/pkg/provider/llm"
	"github.com/wbendinelli/xvoice/pkg/provider/llm/anyllm"
	llmopenai "github.com/wbendinelli/xvoice/pkg/provider/llm/openai"
	"github.com/wbendinelli/xvoice/pkg/recognize"
	"github.com/wbendinelli/xvoice/pkg/recognize/deepgram"
	recmock "github.com/wbendinelli/xvoice/pkg/recognize/mock"
	"github.com/wbendinelli/xvoice/pkg/recognize/whisper"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	formatFlag := flag.String("format", "", "override the output format (json, markdown, text)")
	outDir := flag.String("out", "", "override the output directory")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <media-file> [media-file...]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	inputs := flag.Args()
	if len(inputs) == 0 {
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "xvoice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "xvoice: %v\n", err)
		}
		return 1
	}
	if *formatFlag != "" {
		f := transcript.Format(*formatFlag)
		if !f.IsValid() {
			fmt.Fprintf(os.Stderr, "xvoice: unknown output format %q\n", *formatFlag)
			return 2
		}
		cfg.Output.Format = f
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("xvoice starting",
		"config", *configPath,
		"inputs", len(inputs),
		"recognizer", cfg.Recognizer.Kind,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "xvoice",
		RecognizerKind: string(cfg.Recognizer.Kind),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	if cfg.Telemetry.MetricsAddr != "" {
		srv := observe.NewMetricsServer(cfg.Telemetry.MetricsAddr)
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics endpoint up", "addr", cfg.Telemetry.MetricsAddr)
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	rec, err := buildRecognizer(cfg.Recognizer, reg)
	if err != nil {
		slog.Error("failed to build recognizer", "err", err)
		return 1
	}
	rec = observe.InstrumentRecognizer(rec, metrics)

	polisher, err := buildPolisher(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build polish stages", "err", err)
		return 1
	}

	// ── Archive ───────────────────────────────────────────────────────────────
	store, err := archive.Open(ctx, cfg.Archive, slog.Default())
	if err != nil {
		slog.Error("failed to open archive", "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("archive close error", "err", err)
		}
	}()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	p, err := pipeline.New(cfg, rec,
		pipeline.WithPolisher(polisher),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Transcribe ────────────────────────────────────────────────────────────
	failed := 0
	for _, input := range inputs {
		tr, runErr := p.Run(ctx, input)
		if tr != nil {
			if err := writeTranscript(cfg, tr); err != nil {
				slog.Error("failed to write transcript", "source", input, "err", err)
				failed++
			}
			saveToArchive(ctx, store, tr, runErr)
		}
		switch {
		case runErr == nil:
		case errors.Is(runErr, context.Canceled):
			slog.Warn("transcription cancelled, partial transcript written", "source", input)
			return 1
		default:
			slog.Error("transcription failed", "source", input, "err", runErr)
			failed++
		}
	}

	if store.Enabled() {
		if err := store.Prune(ctx); err != nil {
			slog.Warn("archive prune error", "err", err)
		}
	}

	if failed > 0 {
		slog.Error("finished with failures", "failed", failed, "total", len(inputs))
		return 1
	}
	slog.Info("all inputs transcribed", "total", len(inputs))
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the recognizer and LLM factories that ship
// with xvoice into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer(config.KindWhisperServer, func(rc config.RecognizerConfig) (recognize.Recognizer, error) {
		var opts []whisper.ServerOption
		if rc.Model != "" {
			opts = append(opts, whisper.WithModel(rc.Model))
		}
		if rc.Language != "" {
			opts = append(opts, whisper.WithLanguage(rc.Language))
		}
		if rc.Temperature > 0 {
			opts = append(opts, whisper.WithTemperature(rc.Temperature))
		}
		if rc.TimeoutSec > 0 {
			opts = append(opts, whisper.WithTimeout(rc.Timeout()))
		}
		return whisper.NewServer(rc.BaseURL, opts...)
	})

	reg.RegisterRecognizer(config.KindWhisperNative, func(rc config.RecognizerConfig) (recognize.Recognizer, error) {
		var opts []whisper.NativeOption
		if rc.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(rc.Language))
		}
		return whisper.NewNative(rc.Model, opts...)
	})

	reg.RegisterRecognizer(config.KindDeepgram, func(rc config.RecognizerConfig) (recognize.Recognizer, error) {
		var opts []deepgram.Option
		if rc.Model != "" {
			opts = append(opts, deepgram.WithModel(rc.Model))
		}
		if rc.Language != "" {
			opts = append(opts, deepgram.WithLanguage(rc.Language))
		}
		if rc.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(rc.BaseURL))
		}
		return deepgram.New(rc.APIKey, opts...)
	})

	reg.RegisterRecognizer(config.KindMock, func(config.RecognizerConfig) (recognize.Recognizer, error) {
		return &recmock.Recognizer{}, nil
	})

	// ── LLM providers ─────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.LLMProviderConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.LLMProviderConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-compatible goes through the official client so self-hosted
	// servers that track the OpenAI API exactly can be pointed at directly.
	reg.RegisterLLM("openai-compatible", func(entry config.LLMProviderConfig) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildRecognizer instantiates the configured backend and, when a fallback
// chain or breaker protection is configured, wraps it in a breaker-guarded
// failover chain.
func buildRecognizer(rc config.RecognizerConfig, reg *config.Registry) (recognize.Recognizer, error) {
	primary, err := reg.CreateRecognizer(rc)
	if err != nil {
		return nil, err
	}
	if !rc.Breaker.Enabled && rc.Fallback == nil {
		return primary, nil
	}

	chain := resilience.NewRecognizerFallback(primary, resilience.BreakerConfig{
		Name:         string(rc.Kind),
		MaxFailures:  rc.Breaker.MaxFailures,
		ResetTimeout: rc.Breaker.ResetTimeout(),
	})
	for fb := rc.Fallback; fb != nil; fb = fb.Fallback {
		backend, err := reg.CreateRecognizer(*fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Kind, err)
		}
		chain.AddFallback(backend)
	}
	return chain, nil
}

// buildPolisher assembles the polish stages from config. Returns nil when
// every stage is disabled.
func buildPolisher(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*polish.Polisher, error) {
	opts := []polish.Option{polish.WithRules(cfg.Polish.Rules)}
	active := cfg.Polish.Rules

	if len(cfg.Polish.Glossary) > 0 {
		opts = append(opts, polish.WithGlossary(phonetic.NewMatcher(cfg.Polish.Glossary)))
		active = true
	}

	if cfg.Polish.LLM.Enabled {
		provider, err := reg.CreateLLM(cfg.Polish.LLM.ProviderConfig())
		if err != nil {
			return nil, err
		}
		if cfg.Polish.LLM.Fallback != nil {
			chain := resilience.NewLLMFallback(provider, resilience.BreakerConfig{Name: provider.Name()})
			backend, err := reg.CreateLLM(*cfg.Polish.LLM.Fallback)
			if err != nil {
				return nil, fmt.Errorf("llm fallback %q: %w", cfg.Polish.LLM.Fallback.Provider, err)
			}
			chain.AddFallback(backend)
			provider = chain
		}
		corrector, err := llmpolish.New(observe.InstrumentLLM(provider, metrics))
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			polish.WithLLMCorrector(corrector),
			polish.WithLLMConfidenceFloor(cfg.Polish.LLM.ConfidenceFloor),
		)
		active = true
	}

	if !active {
		return nil, nil
	}
	return polish.New(opts...)
}

// ── Output ────────────────────────────────────────────────────────────────────

// writeTranscript renders tr in the configured format and writes it next to
// the other outputs as <input-stem>.<ext>.
func writeTranscript(cfg *config.Config, tr *transcript.Transcript) error {
	data, err := transcript.Render(tr, cfg.Output.Format, transcript.RenderOptions{
		Timestamps:   cfg.Output.Timestamps,
		ParagraphGap: cfg.Output.ParagraphGap(),
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	stem := strings.TrimSuffix(tr.Meta.Source, filepath.Ext(tr.Meta.Source))
	path := filepath.Join(cfg.Output.Dir, stem+"."+cfg.Output.Format.Ext())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	slog.Info("transcript written", "path", path, "segments", len(tr.Segments))
	return nil
}

// saveToArchive records the finished transcript when archiving is enabled.
func saveToArchive(ctx context.Context, store *archive.Store, tr *transcript.Transcript, runErr error) {
	if !store.Enabled() {
		return
	}
	status := "complete"
	switch {
	case errors.Is(runErr, context.Canceled):
		status = "cancelled"
	case runErr != nil:
		status = "failed"
	case len(tr.Gaps()) > 0:
		status = "degraded"
	}
	jobID, err := store.SaveTranscript(ctx, tr, status)
	if err != nil {
		slog.Warn("archive save error", "source", tr.Meta.Source, "err", err)
		return
	}
	slog.Debug("transcript archived", "job_id", jobID, "status", status)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          xvoice — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printSetting("Recognizer", string(cfg.Recognizer.Kind), cfg.Recognizer.Model)
	printSetting("Output", string(cfg.Output.Format), cfg.Output.Dir)
	printSetting("Chunks", fmt.Sprintf("%gs + %gs overlap", cfg.Pipeline.ChunkDurationSec, cfg.Pipeline.OverlapSec), "")
	if cfg.Polish.LLM.Enabled {
		printSetting("LLM polish", cfg.Polish.LLM.Provider, cfg.Polish.LLM.Model)
	}
	if cfg.Archive.Enabled {
		printSetting("Archive", cfg.Archive.Path, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printSetting(label, value, detail string) {
	line := fmt.Sprintf("║ %-11s %s", label, value)
	if detail != "" {
		line += " (" + detail + ")"
	}
	fmt.Println(line)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
