package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wbendinelli/xvoice/internal/config"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

func testTranscript(source string) *transcript.Transcript {
	return &transcript.Transcript{
		Segments: []transcript.Segment{
			{Start: 0, End: 2 * time.Second, Text: "hello there", Confidence: 0.9},
		},
		Meta: transcript.Metadata{
			Source:         source,
			SourceDuration: 2 * time.Second,
			Model:          "mock",
			GeneratedAt:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestWriteTranscriptNamesFileAfterInputStem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format transcript.Format
		want   string
	}{
		{transcript.FormatText, "talk.txt"},
		{transcript.FormatMarkdown, "talk.md"},
		{transcript.FormatJSON, "talk.json"},
	}
	for _, tc := range cases {
		t.Run(string(tc.format), func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			cfg.Output.Dir = t.TempDir()
			cfg.Output.Format = tc.format

			if err := writeTranscript(cfg, testTranscript("talk.mp3")); err != nil {
				t.Fatalf("writeTranscript returned error: %v", err)
			}
			data, err := os.ReadFile(filepath.Join(cfg.Output.Dir, tc.want))
			if err != nil {
				t.Fatalf("expected transcript at %s: %v", tc.want, err)
			}
			if len(data) == 0 {
				t.Errorf("transcript %s is empty", tc.want)
			}
		})
	}
}

func TestWriteTranscriptCreatesOutputDir(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out", "nested")

	if err := writeTranscript(cfg, testTranscript("talk.wav")); err != nil {
		t.Fatalf("writeTranscript returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, "talk.txt")); err != nil {
		t.Errorf("transcript not written into the created dir: %v", err)
	}
}
