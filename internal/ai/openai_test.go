package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, reply string, capture *chatRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
}

func TestTranslateParsesSuggestions(t *testing.T) {
	var captured chatRequest
	server := chatServer(t, "```json\n{\"greeting\":\"Bonjour\",\"farewell\":\"Au revoir\"}\n```", &captured)
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "test-model")
	got, err := client.Translate(context.Background(), TranslateRequest{
		SourceLanguage: "en",
		TargetLanguage: "fr",
		Strings:        map[string]string{"greeting": "Hello", "farewell": "Goodbye"},
	})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if len(got.Items) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got.Items))
	}
	// Suggestions come back sorted by key.
	if got.Items[0].Key != "farewell" || got.Items[0].Value != "Au revoir" {
		t.Errorf("unexpected first suggestion: %+v", got.Items[0])
	}
	if got.Items[1].Key != "greeting" || got.Items[1].Value != "Bonjour" {
		t.Errorf("unexpected second suggestion: %+v", got.Items[1])
	}
	if got.Model != "test-model" {
		t.Errorf("expected model echo, got %q", got.Model)
	}
	if captured.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", captured.Temperature)
	}
	if len(captured.Messages) != 2 || !strings.Contains(captured.Messages[1].Content, "from en to fr") {
		t.Errorf("prompt missing language pair: %+v", captured.Messages)
	}
}

func TestProofreadPromptMentionsLanguage(t *testing.T) {
	var captured chatRequest
	server := chatServer(t, `{"title":"Settings"}`, &captured)
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "test-model")
	if _, err := client.Proofread(context.Background(), ProofreadRequest{
		Language: "de",
		Strings:  map[string]string{"title": "Einstelungen"},
	}); err != nil {
		t.Fatalf("Proofread failed: %v", err)
	}
	if !strings.Contains(captured.Messages[1].Content, "de UI strings") {
		t.Errorf("prompt missing language: %s", captured.Messages[1].Content)
	}
}

func TestCompleteSurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "test-model")
	if _, err := client.Translate(context.Background(), TranslateRequest{SourceLanguage: "en", TargetLanguage: "fr"}); err == nil {
		t.Error("expected error on provider failure")
	}
}

func TestParseSuggestionJSONRejectsGarbage(t *testing.T) {
	if _, err := parseSuggestionJSON("sorry, I cannot help with that"); err == nil {
		t.Error("expected parse error for non-JSON reply")
	}
}
