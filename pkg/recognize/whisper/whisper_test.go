package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wbendinelli/xvoice/pkg/recognize"
	"github.com/wbendinelli/xvoice/pkg/recognize/whisper"
)

// inferenceReply is the wire shape of a whisper-server verbose_json response.
type inferenceReply struct {
	Text     string             `json:"text"`
	Segments []inferenceSegment `json:"segments,omitempty"`
}

type inferenceSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func TestServerRecognize(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 16000) // one second of silence

	var gotLanguage, gotFormat, gotModel string
	var gotWAV []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		gotModel = r.FormValue("model")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("read form file: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(file); err != nil {
			t.Errorf("read wav payload: %v", err)
		}
		gotWAV = buf.Bytes()

		json.NewEncoder(w).Encode(inferenceReply{
			Text: " Hello world. And goodbye.",
			Segments: []inferenceSegment{
				{Start: 0, End: 1.5, Text: " Hello world."},
				{Start: 1.5, End: 2.25, Text: "   "},
				{Start: 2.25, End: 3.5, Text: " And goodbye."},
			},
		})
	}))
	defer srv.Close()

	rec, err := whisper.NewServer(srv.URL,
		whisper.WithLanguage("de"),
		whisper.WithModel("base.en"),
	)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	segs, err := rec.Recognize(context.Background(), samples, 16000)
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}

	want := []recognize.Segment{
		{Text: "Hello world.", Start: 0, End: 1500 * time.Millisecond},
		{Text: "And goodbye.", Start: 2250 * time.Millisecond, End: 3500 * time.Millisecond},
	}
	if len(segs) != len(want) {
		t.Fatalf("Recognize returned %d segments, want %d: %+v", len(segs), len(want), segs)
	}
	for i, w := range want {
		if segs[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, segs[i], w)
		}
	}

	if gotLanguage != "de" {
		t.Errorf("language field = %q, want %q", gotLanguage, "de")
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format field = %q, want %q", gotFormat, "verbose_json")
	}
	if gotModel != "base.en" {
		t.Errorf("model field = %q, want %q", gotModel, "base.en")
	}

	wantWAVLen := 44 + len(samples)*2
	if len(gotWAV) != wantWAVLen {
		t.Errorf("uploaded WAV is %d bytes, want %d", len(gotWAV), wantWAVLen)
	}
	if len(gotWAV) >= 4 && string(gotWAV[:4]) != "RIFF" {
		t.Errorf("uploaded payload does not start with a RIFF header: % x", gotWAV[:4])
	}
}

func TestServerRecognizeTextOnlyResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceReply{Text: " plain text reply "})
	}))
	defer srv.Close()

	rec, err := whisper.NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	samples := make([]float32, 32000) // two seconds at 16 kHz
	segs, err := rec.Recognize(context.Background(), samples, 16000)
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("Recognize returned %d segments, want 1", len(segs))
	}
	if segs[0].Text != "plain text reply" {
		t.Errorf("segment text = %q, want %q", segs[0].Text, "plain text reply")
	}
	if segs[0].Start != 0 || segs[0].End != 2*time.Second {
		t.Errorf("segment span = [%v, %v], want [0s, 2s]", segs[0].Start, segs[0].End)
	}
}

func TestServerRecognizeHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec, err := whisper.NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	_, err = rec.Recognize(context.Background(), make([]float32, 160), 16000)
	if err == nil {
		t.Fatal("Recognize succeeded, want HTTP error")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("error = %q, want mention of HTTP 500", err)
	}
}

func TestServerRecognizeEmptyWindow(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(inferenceReply{})
	}))
	defer srv.Close()

	rec, err := whisper.NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	segs, err := rec.Recognize(context.Background(), nil, 16000)
	if err != nil {
		t.Fatalf("Recognize returned error: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("Recognize returned %d segments for an empty window, want 0", len(segs))
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("server was hit %d times for an empty window, want 0", n)
	}
}

func TestServerRecognizeCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceReply{Text: "never delivered"})
	}))
	defer srv.Close()

	rec, err := whisper.NewServer(srv.URL)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rec.Recognize(ctx, make([]float32, 160), 16000); err == nil {
		t.Fatal("Recognize succeeded with a cancelled context, want error")
	}
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	if _, err := whisper.NewServer(""); err == nil {
		t.Fatal("NewServer accepted an empty baseURL, want error")
	}
}
