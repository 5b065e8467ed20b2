package export

import (
	"context"
	"strings"
	"testing"
	"time"
)

const sampleCatalog = `{
	"sourceLanguage": "en",
	"strings": {
		"greeting": {
			"comment": "Shown on launch",
			"localizations": {
				"fr": {"stringUnit": {"state": "translated", "value": "Bonjour"}},
				"de": {"stringUnit": {"state": "needs_review", "value": "Hallo"}}
			}
		},
		"farewell": {
			"localizations": {
				"fr": {"stringUnit": {"state": "translated", "value": "Au revoir"}}
			}
		}
	}
}`

func testInput() Input {
	return Input{
		FileID:    "file_1",
		Name:      "App Strings",
		OwnerName: "Avery",
		Content:   sampleCatalog,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExportXCStrings(t *testing.T) {
	svc := NewService(nil)
	result, err := svc.Export(context.Background(), testInput(), FormatXCStrings)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Filename != "App-Strings.xcstrings" {
		t.Errorf("unexpected filename %q", result.Filename)
	}
	if result.MimeType != "application/json" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	if !strings.Contains(string(result.Data), "\n  ") {
		t.Error("expected pretty-printed output")
	}
	if result.URL != "" {
		t.Error("expected no download URL without storage")
	}
}

func TestExportHTMLContainsStringTable(t *testing.T) {
	svc := NewService(nil)
	result, err := svc.Export(context.Background(), testInput(), FormatHTML)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	html := string(result.Data)
	for _, want := range []string{"App Strings", "greeting", "Bonjour", "Shown on launch", "Avery"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
	// Column order follows sorted locales: de, en, fr.
	if strings.Index(html, "<th>de</th>") > strings.Index(html, "<th>fr</th>") {
		t.Error("language columns not sorted")
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Export(context.Background(), testInput(), Format("docx")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestExportRejectsMalformedCatalog(t *testing.T) {
	svc := NewService(nil)
	in := testInput()
	in.Content = "not json"
	if _, err := svc.Export(context.Background(), in, FormatHTML); err == nil {
		t.Error("expected error for malformed catalog")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"App Strings":          "App-Strings",
		"weird/../path":        "weirdpath",
		"":                     "catalog",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
