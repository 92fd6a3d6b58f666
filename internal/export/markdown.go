package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var markdownConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// renderMarkdown converts the document content, not the full page, so the
// output carries no styling or meta block.
func renderMarkdown(_ context.Context, _ string, doc Document, opts Options) ([]byte, error) {
	body, err := markdownConverter.ConvertString(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	var out strings.Builder
	if !opts.OmitTitle && strings.TrimSpace(doc.Title) != "" {
		out.WriteString("# ")
		out.WriteString(strings.TrimSpace(doc.Title))
		out.WriteString("\n\n")
	}
	out.WriteString(strings.TrimSpace(body))
	out.WriteString("\n")
	return []byte(out.String()), nil
}
