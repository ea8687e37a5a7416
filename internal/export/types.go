// Package export serializes a fully-built contract tree to plain text or PDF.
package export

import (
	"errors"

	"parley/api/internal/contract"
)

// Format represents the export output format
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
)

// Document is the contract content handed to the exporter: the generated
// envelope plus the chapter tree in its current approval state.
type Document struct {
	Title               string
	Preamble            string
	ApplicableStandards []string
	Chapters            []contract.Chapter
	Closing             string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates the requested output format is unknown.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
