// Package export renders documents to PDF, DOCX, HTML and Markdown.
package export

import (
	"errors"
	"strings"
	"time"
)

// Format is the MIME type of an export.
type Format string

const (
	FormatPDF      Format = "application/pdf"
	FormatDOCX     Format = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	FormatHTML     Format = "text/html"
	FormatMarkdown Format = "text/markdown"
)

var formatAliases = map[string]Format{
	"pdf":      FormatPDF,
	"docx":     FormatDOCX,
	"html":     FormatHTML,
	"markdown": FormatMarkdown,
	"md":       FormatMarkdown,
}

var formatExtensions = map[Format]string{
	FormatPDF:      ".pdf",
	FormatDOCX:     ".docx",
	FormatHTML:     ".html",
	FormatMarkdown: ".md",
}

// ParseFormat accepts a MIME type or a short alias such as "pdf".
func ParseFormat(raw string) (Format, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if f, ok := formatAliases[value]; ok {
		return f, nil
	}
	if _, ok := formatExtensions[Format(value)]; ok {
		return Format(value), nil
	}
	return "", ErrUnsupportedFormat
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return formatExtensions[f]
}

// Options tune the rendered output. Unknown keys in a request are ignored.
type Options struct {
	PaperSize string // "letter" (default) or "a4"
	Landscape bool
	// OmitTitle skips the title heading above the content.
	OmitTitle bool
}

// OptionsFromMap reads options from a decoded JSON request.
func OptionsFromMap(raw map[string]any) Options {
	var opts Options
	if v, ok := raw["paperSize"].(string); ok {
		opts.PaperSize = strings.ToLower(v)
	}
	if v, ok := raw["landscape"].(bool); ok {
		opts.Landscape = v
	}
	if v, ok := raw["omitTitle"].(bool); ok {
		opts.OmitTitle = v
	}
	return opts
}

// Document is the content handed to a renderer. Content is HTML.
type Document struct {
	ID        string
	Title     string
	Content   string
	Author    string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates a format with no renderer.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
