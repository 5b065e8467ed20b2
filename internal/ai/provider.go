// Package ai is the stateless facade over external translation and
// proofreading providers. It only ever reads catalog content handed to it;
// suggestions reach storage exclusively through the normal update path.
package ai

import "context"

// TranslateRequest asks for target-language suggestions for a set of
// source strings.
type TranslateRequest struct {
	SourceLanguage string
	TargetLanguage string
	Strings        map[string]string // key -> source text
	Instructions   string            // optional catalog-level guidance
}

// ProofreadRequest asks for corrections to existing localizations.
type ProofreadRequest struct {
	Language string
	Strings  map[string]string // key -> current text
}

// Suggestion is one proposed value for a string key.
type Suggestion struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Note  string `json:"note,omitempty"`
}

// Suggestions is a provider response.
type Suggestions struct {
	Items []Suggestion `json:"items"`
	Model string       `json:"model"`
}

// Provider is implemented by external AI backends.
type Provider interface {
	Translate(ctx context.Context, req TranslateRequest) (Suggestions, error)
	Proofread(ctx context.Context, req ProofreadRequest) (Suggestions, error)
}
