package search

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicy    = bluemonday.StrictPolicy()
	blockBoundary = regexp.MustCompile(`(?i)</(p|h[1-6]|li|blockquote|pre|td|th)>|<br\s*/?>`)
	headingOpen   = regexp.MustCompile(`(?i)^\s*<h[1-6][\s>]`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// minPassageLength drops fragments too short to be useful as context.
const minPassageLength = 24

// ExtractPassages splits document HTML into plain-text passages. Each
// passage remembers the nearest heading above it.
func ExtractPassages(documentID, title, content string) []PassageRecord {
	var (
		records []PassageRecord
		heading string
	)
	for _, chunk := range blockBoundary.Split(content, -1) {
		text := PlainText(chunk)
		if text == "" {
			continue
		}
		if headingOpen.MatchString(chunk) {
			heading = text
			continue
		}
		if len(text) < minPassageLength {
			continue
		}
		records = append(records, PassageRecord{
			ID:         fmt.Sprintf("%s-p%d", documentID, len(records)),
			DocumentID: documentID,
			Title:      title,
			Heading:    heading,
			Body:       text,
			Position:   len(records),
		})
	}
	return records
}

// PlainText strips markup and collapses whitespace.
func PlainText(fragment string) string {
	text := html.UnescapeString(textPolicy.Sanitize(fragment))
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
