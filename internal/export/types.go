// Package export renders materialized views as CSV, PDF and DOCX files.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts the format query parameter. An empty string means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF, FormatDOCX:
		return Format(s), nil
	}
	return "", ErrUnsupportedFormat
}

// Request contains parameters for an export operation
type Request struct {
	ViewID int64
	Format Format
	// Store uploads the result to the object store as well.
	Store bool
}

// Table is a materialized view flattened to strings, ready to render.
type Table struct {
	Title       string
	BoardName   string
	Columns     []string
	Groups      []TableGroup
	Count       int
	GeneratedAt time.Time
}

type TableGroup struct {
	Title string
	Rows  [][]string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ObjectKey and URL are set when the result was stored.
	ObjectKey string
	URL       string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	// ErrStoreUnavailable is returned when storing is requested but no
	// object store is configured.
	ErrStoreUnavailable = errors.New("export object store not configured")
)
