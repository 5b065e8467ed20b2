// Package content is the hash-addressed view of string catalog payloads:
// digests for dedup comparisons, structural validation, and stable
// pretty-printing of .xcstrings JSON.
package content

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotObject = errors.New("content is not a JSON object")

// Digest returns the sha256 hex fingerprint of a content blob. Two blobs
// compare equal iff their digests compare equal.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// SizeOf returns the byte length of a content blob.
func SizeOf(content string) int64 {
	return int64(len(content))
}

// Validate checks that a payload is a well-formed .xcstrings document: valid
// JSON whose top-level value is an object.
func Validate(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || trimmed[0] != '{' {
		return ErrNotObject
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return fmt.Errorf("parse content: %w", err)
	}
	return nil
}

// Pretty reindents a payload deterministically. Used by the export path, not
// by the ledger: stored content is byte-preserved as uploaded.
func Pretty(content string) (string, error) {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format content: %w", err)
	}
	return string(out), nil
}

// Catalog is the subset of the .xcstrings schema the editor inspects for
// reporting and AI prompts.
type Catalog struct {
	SourceLanguage string                  `json:"sourceLanguage"`
	Strings        map[string]CatalogEntry `json:"strings"`
}

type CatalogEntry struct {
	Comment       string                  `json:"comment,omitempty"`
	Localizations map[string]Localization `json:"localizations,omitempty"`
}

type Localization struct {
	StringUnit *StringUnit `json:"stringUnit,omitempty"`
}

type StringUnit struct {
	State string `json:"state,omitempty"`
	Value string `json:"value,omitempty"`
}

// ParseCatalog decodes a payload into the inspected catalog shape. Unknown
// fields are ignored so round-tripping never loses data (the raw blob stays
// authoritative).
func ParseCatalog(content string) (Catalog, error) {
	var catalog Catalog
	if err := json.Unmarshal([]byte(content), &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	return catalog, nil
}

// Languages returns the sorted union of locales that appear in the catalog.
func (c Catalog) Languages() []string {
	seen := map[string]struct{}{}
	if c.SourceLanguage != "" {
		seen[c.SourceLanguage] = struct{}{}
	}
	for _, entry := range c.Strings {
		for locale := range entry.Localizations {
			seen[locale] = struct{}{}
		}
	}
	languages := make([]string, 0, len(seen))
	for locale := range seen {
		languages = append(languages, locale)
	}
	sort.Strings(languages)
	return languages
}
