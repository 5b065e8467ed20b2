// Package export renders string catalogs into downloadable artifacts.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatXCStrings Format = "xcstrings"
	FormatHTML      Format = "html"
	FormatPDF       Format = "pdf"
)

// Input carries the file snapshot being exported.
type Input struct {
	FileID    string
	Name      string
	OwnerName string
	Content   string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// URL is a presigned download link when artifact storage is configured.
	URL string
}

var (
	// ErrUnknownFormat indicates an unsupported export format was requested.
	ErrUnknownFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
