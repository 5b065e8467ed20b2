package export

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"localehub/api/internal/content"
)

// Service renders export artifacts. When storage is nil the artifact is
// returned inline only.
type Service struct {
	storage *Storage
}

func NewService(storage *Storage) *Service {
	return &Service{storage: storage}
}

// Export generates an artifact in the requested format.
func (s *Service) Export(ctx context.Context, in Input, format Format) (*Result, error) {
	var result *Result
	var err error

	switch format {
	case FormatXCStrings:
		result, err = exportXCStrings(in)
	case FormatHTML:
		result, err = exportHTML(in)
	case FormatPDF:
		result, err = exportCatalogPDF(in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if s.storage != nil {
		objectName := fmt.Sprintf("%s/%d-%s", in.FileID, time.Now().Unix(), result.Filename)
		if err := s.storage.Put(ctx, objectName, result.Data, result.MimeType); err != nil {
			// The inline artifact is still usable; skip the download link.
			log.Printf("export: artifact upload failed: %v", err)
			return result, nil
		}
		downloadURL, err := s.storage.PresignedGet(ctx, objectName, result.Filename, 24*time.Hour)
		if err != nil {
			log.Printf("export: presign failed: %v", err)
			return result, nil
		}
		result.URL = downloadURL
	}
	return result, nil
}

func exportXCStrings(in Input) (*Result, error) {
	pretty, err := content.Pretty(in.Content)
	if err != nil {
		return nil, fmt.Errorf("format catalog: %w", err)
	}
	return &Result{
		Data:     []byte(pretty),
		Filename: sanitizeFilename(in.Name) + ".xcstrings",
		MimeType: "application/json",
	}, nil
}

func exportHTML(in Input) (*Result, error) {
	html, err := renderCatalog(in)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(in.Name) + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}

func exportCatalogPDF(in Input) (*Result, error) {
	html, err := renderCatalog(in)
	if err != nil {
		return nil, err
	}
	return exportPDF(html, in.Name)
}

func renderCatalog(in Input) (string, error) {
	catalog, err := content.ParseCatalog(in.Content)
	if err != nil {
		return "", fmt.Errorf("parse catalog: %w", err)
	}

	languages := catalog.Languages()
	keys := make([]string, 0, len(catalog.Strings))
	for key := range catalog.Strings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]TemplateRow, 0, len(keys))
	for _, key := range keys {
		entry := catalog.Strings[key]
		row := TemplateRow{Key: key, Comment: entry.Comment}
		for _, locale := range languages {
			var cell TemplateCell
			if localization, ok := entry.Localizations[locale]; ok && localization.StringUnit != nil {
				cell = TemplateCell{Value: localization.StringUnit.Value, State: localization.StringUnit.State}
			} else if locale == catalog.SourceLanguage {
				// Source language often has no explicit unit; the key is the value.
				cell = TemplateCell{Value: key, State: "source"}
			}
			row.Values = append(row.Values, cell)
		}
		rows = append(rows, row)
	}

	return RenderCatalogHTML(TemplateData{
		Name:      in.Name,
		OwnerName: in.OwnerName,
		UpdatedAt: in.UpdatedAt,
		Languages: languages,
		Rows:      rows,
	})
}
