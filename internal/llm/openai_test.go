package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/lodeclaim/internal/model"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Jurisdiction: AZ") {
			t.Errorf("Expected run prompt in user message, got %+v", req.Messages)
		}

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
			Usage: openai.Usage{TotalTokens: 120},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testRunSummary() model.RunSummary {
	return model.RunSummary{
		Jurisdiction: "AZ",
		AsOf:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:       model.RunOK,
		Merged:       2,
		Conflicted:   1,
		Sources: []model.FetchOutcome{
			{SourceID: "mlrs-api", Kind: model.SourceKindAPI, Status: model.FetchError, ErrorKind: model.FetchUnreachable},
			{SourceID: "lr2000", Kind: model.SourceKindLegacy, Status: model.FetchOK, Records: 2},
		},
		Lifecycle: map[string]int{"active": 1, "abandoned": 1},
	}
}

func TestOpenAIProvider_Summarize_Success(t *testing.T) {
	server := chatServer(t, "The API was unreachable; the legacy report supplied 2 claims. AZ1002 needs review.")
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey: "test-key", BaseURL: server.URL, Model: "gpt-4o-mini", Timeout: 5, StrictCitations: true,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Summarize(context.Background(), SummarizeRequest{
		Summary:  testRunSummary(),
		ClaimIDs: []string{"AZ1001", "AZ1002"},
	})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if len(resp.CitedIDs) != 1 || resp.CitedIDs[0] != "AZ1002" {
		t.Errorf("Unexpected cited ids: %v", resp.CitedIDs)
	}
	if resp.TokensUsed != 120 {
		t.Errorf("Expected 120 tokens, got %d", resp.TokensUsed)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("Unexpected model: %s", resp.Model)
	}
}

func TestOpenAIProvider_Summarize_CitationLeak(t *testing.T) {
	server := chatServer(t, "Claim AZ9999 was also reviewed.")
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, StrictCitations: true})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Summarize(context.Background(), SummarizeRequest{
		Summary:  testRunSummary(),
		ClaimIDs: []string{"AZ1001"},
	})
	if err == nil || !strings.Contains(err.Error(), "CITATION LEAK") {
		t.Fatalf("Expected citation leak error, got %v", err)
	}
	if !strings.Contains(err.Error(), "AZ9999") {
		t.Errorf("Expected leaked id in error, got %v", err)
	}
}

func TestOpenAIProvider_Summarize_LenientCitations(t *testing.T) {
	server := chatServer(t, "Claim AZ9999 was also reviewed.")
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, StrictCitations: false})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Summarize(context.Background(), SummarizeRequest{Summary: testRunSummary()})
	if err != nil {
		t.Fatalf("Expected no error without strict citations, got %v", err)
	}
	if len(resp.CitedIDs) != 1 {
		t.Errorf("Expected cited ids to still be reported, got %v", resp.CitedIDs)
	}
}

func TestOpenAIProvider_Summarize_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit exceeded", "type": "requests"}}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Summarize(context.Background(), SummarizeRequest{Summary: testRunSummary()})
	if err == nil {
		t.Fatal("Expected error for 429, got nil")
	}
}

func TestOpenAIProvider_Summarize_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "empty"})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	_, err = provider.Summarize(context.Background(), SummarizeRequest{Summary: testRunSummary()})
	if err == nil || !strings.Contains(err.Error(), "no response") {
		t.Fatalf("Expected no-response error, got %v", err)
	}
}

func TestOpenAIProvider_Summarize_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	// The caller's deadline wins over the configured timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := provider.Summarize(ctx, SummarizeRequest{Summary: testRunSummary()}); err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
}

func TestOpenAIProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			_, _ = w.Write([]byte(`{"data": [{"id": "gpt-4o-mini"}]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be true")
	}

	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if provider.IsAvailable(context.Background()) {
		t.Error("Expected available to be false on error")
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(Config{}); err == nil {
		t.Fatal("Expected error without API key")
	}
}

func TestExtractClaimIDs(t *testing.T) {
	got := extractClaimIDs("AZ1001 and AZMC123456 conflict; AZ1001 again. AZ is a state, 2024 is a year.")
	want := []string{"AZ1001", "AZMC123456"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("extractClaimIDs = %v, want %v", got, want)
	}
}
