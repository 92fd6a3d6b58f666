package export

import (
	"context"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
)

// Renderer turns the rendered HTML page into the bytes of one format.
type Renderer func(ctx context.Context, page string, doc Document, opts Options) ([]byte, error)

// Service provides document export functionality
type Service struct {
	renderers map[Format]Renderer
	policy    *bluemonday.Policy
}

// NewService creates an export service with the built-in renderers.
func NewService() *Service {
	return &Service{
		renderers: map[Format]Renderer{
			FormatPDF:      renderPDF,
			FormatDOCX:     renderDOCX,
			FormatHTML:     renderHTML,
			FormatMarkdown: renderMarkdown,
		},
		policy: bluemonday.UGCPolicy(),
	}
}

// WithRenderer replaces the renderer of format.
func (s *Service) WithRenderer(format Format, r Renderer) *Service {
	s.renderers[format] = r
	return s
}

// Supports reports whether format has a renderer.
func (s *Service) Supports(format Format) bool {
	_, ok := s.renderers[format]
	return ok
}

// Export renders doc in the requested format.
func (s *Service) Export(ctx context.Context, doc Document, format Format, opts Options) (*Result, error) {
	render, ok := s.renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	doc.Content = s.policy.Sanitize(doc.Content)
	page, err := RenderDocumentHTML(TemplateData{
		Title:       doc.Title,
		ShowTitle:   !opts.OmitTitle,
		ContentHTML: template.HTML(doc.Content),
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
		PageSize:    pageSize(opts),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	data, err := render(ctx, page, doc, opts)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: Filename(doc.Title, format),
		MimeType: string(format),
	}, nil
}

func renderHTML(_ context.Context, page string, _ Document, _ Options) ([]byte, error) {
	return []byte(page), nil
}

func pageSize(opts Options) string {
	size := "letter"
	if opts.PaperSize == "a4" {
		size = "A4"
	}
	if opts.Landscape {
		size += " landscape"
	}
	return size
}

// Filename is the download name of doc title exported as format.
func Filename(title string, format Format) string {
	return sanitizeFilename(title) + format.Extension()
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}

	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
