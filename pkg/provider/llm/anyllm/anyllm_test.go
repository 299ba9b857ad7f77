package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/wbendinelli/xvoice/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	p := &Provider{providerName: "ollama", model: "llama3.2"}
	req := llm.CompletionRequest{
		SystemPrompt: "You fix transcripts.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Fix segment 3."},
			{Role: llm.RoleAssistant, Content: `{"corrections":[]}`},
		},
		Temperature: 0.1,
		MaxTokens:   256,
	}

	params := p.buildParams(req)
	if params.Model != "llama3.2" {
		t.Errorf("Model=%q, want %q", params.Model, "llama3.2")
	}
	// System prompt becomes the first message, followed by the conversation.
	if len(params.Messages) != 3 {
		t.Fatalf("len(Messages)=%d, want 3", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("Messages[0].Role=%q, want %q", params.Messages[0].Role, anyllmlib.RoleSystem)
	}
	if params.Messages[1].Content != "Fix segment 3." {
		t.Errorf("Messages[1].Content=%q, want the user message", params.Messages[1].Content)
	}
	if params.Temperature == nil || *params.Temperature != 0.1 {
		t.Errorf("Temperature=%v, want 0.1", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens=%v, want 256", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	p := &Provider{providerName: "ollama", model: "llama3.2"}
	req := llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	}

	params := p.buildParams(req)
	if params.Temperature != nil {
		t.Errorf("Temperature=%v, want nil for the provider default", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("MaxTokens=%v, want nil for the provider default", *params.MaxTokens)
	}
}

// ── New / createBackend ───────────────────────────────────────────────────────

func TestNew_RequiresProviderName(t *testing.T) {
	if _, err := New("", "llama3.2"); err == nil {
		t.Fatal("expected error for empty provider name, got nil")
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New("ollama", ""); err == nil {
		t.Fatal("expected error for empty model, got nil")
	}
}

func TestCreateBackend_Unsupported(t *testing.T) {
	if _, err := createBackend("not-a-provider"); err == nil {
		t.Fatal("expected error for unsupported provider, got nil")
	}
}

func TestName_IncludesProvider(t *testing.T) {
	p := &Provider{providerName: "ollama", model: "llama3.2"}
	if got := p.Name(); got != "anyllm/ollama" {
		t.Errorf("Name()=%q, want %q", got, "anyllm/ollama")
	}
}
