package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Translate(ctx context.Context, req TranslateRequest) (Suggestions, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Translate the following UI strings from %s to %s.\n", req.SourceLanguage, req.TargetLanguage)
	prompt.WriteString("Respond with a JSON object mapping each key to its translation. Preserve placeholders like %@ and %lld exactly.\n")
	if req.Instructions != "" {
		fmt.Fprintf(&prompt, "Additional guidance: %s\n", req.Instructions)
	}
	writeStrings(&prompt, req.Strings)

	return c.complete(ctx, "You are a professional software localizer.", prompt.String())
}

func (c *OpenAIClient) Proofread(ctx context.Context, req ProofreadRequest) (Suggestions, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Proofread the following %s UI strings for grammar, spelling, and tone.\n", req.Language)
	prompt.WriteString("Respond with a JSON object mapping each key to its corrected text. Keep a key's value unchanged when it is already correct.\n")
	writeStrings(&prompt, req.Strings)

	return c.complete(ctx, "You are a professional copy editor for software interfaces.", prompt.String())
}

func writeStrings(prompt *strings.Builder, values map[string]string) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	prompt.WriteString("Strings:\n")
	for _, key := range keys {
		encoded, _ := json.Marshal(values[key])
		fmt.Fprintf(prompt, "%q: %s\n", key, encoded)
	}
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (Suggestions, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return Suggestions{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Suggestions{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Suggestions{}, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Suggestions{}, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Suggestions{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Suggestions{}, fmt.Errorf("decode provider response: %w", err)
	}
	if parsed.Error != nil {
		return Suggestions{}, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Suggestions{}, fmt.Errorf("provider returned no choices")
	}

	items, err := parseSuggestionJSON(parsed.Choices[0].Message.Content)
	if err != nil {
		return Suggestions{}, err
	}
	return Suggestions{Items: items, Model: c.model}, nil
}

// parseSuggestionJSON extracts the key->value object from a model reply,
// tolerating markdown fences around the JSON.
func parseSuggestionJSON(reply string) ([]Suggestion, error) {
	trimmed := strings.TrimSpace(reply)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return nil, fmt.Errorf("parse provider reply: %w", err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]Suggestion, 0, len(keys))
	for _, key := range keys {
		items = append(items, Suggestion{Key: key, Value: values[key]})
	}
	return items, nil
}
