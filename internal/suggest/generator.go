// Package suggest produces writing suggestions for a document: sections a
// document of this kind usually has, and passages from related documents.
package suggest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"chronicle/editor/internal/search"
	"chronicle/editor/internal/util"
)

type Searcher interface {
	Search(ctx context.Context, q search.Query) []search.Result
}

type Input struct {
	DocumentID string
	Title      string
	Content    string
	Context    string
}

type Suggestion struct {
	ID         string
	Title      string
	Content    string
	Confidence *float64
	Reasoning  string
}

// section is a heading most documents benefit from, with the Markdown
// body proposed when it is missing.
type section struct {
	heading string
	body    string
}

var outline = []section{
	{heading: "Summary", body: "## Summary\n\nState the purpose of this document and its main conclusion in two or three sentences."},
	{heading: "Risks", body: "## Risks\n\n- What could go wrong\n- How likely it is\n- Who owns the mitigation"},
	{heading: "Next steps", body: "## Next steps\n\n1. Action, owner and due date"},
}

const (
	outlineConfidence = 0.6
	maxRelated        = 3
	maxQueryTerms     = 8
)

var (
	headingText = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

type Generator struct {
	search Searcher
	md     goldmark.Markdown
	policy *bluemonday.Policy
	newID  func() string
}

// New creates a generator. searcher may be nil, in which case only outline
// suggestions are produced.
func New(searcher Searcher) *Generator {
	return &Generator{
		search: searcher,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
		newID:  func() string { return util.NewID("sug") },
	}
}

// Generate returns outline suggestions first, then related passages.
func (g *Generator) Generate(ctx context.Context, in Input) ([]Suggestion, error) {
	items := make([]Suggestion, 0, len(outline)+maxRelated)

	for _, s := range missingSections(in.Content) {
		content, err := g.render(s.body)
		if err != nil {
			return nil, err
		}
		items = append(items, Suggestion{
			ID:         g.newID(),
			Title:      "Add a " + s.heading + " section",
			Content:    content,
			Confidence: confidence(outlineConfidence),
			Reasoning:  fmt.Sprintf("The document has no %q heading.", s.heading),
		})
	}

	if g.search == nil {
		return items, nil
	}
	query := strings.TrimSpace(in.Context)
	if query == "" {
		query = keyTerms(in.Title + " " + search.PlainText(in.Content))
	}
	if query == "" {
		return items, nil
	}

	results := g.search.Search(ctx, search.Query{Text: query, ExcludeDocumentID: in.DocumentID, Limit: maxRelated})
	for i, r := range results {
		if i == maxRelated {
			break
		}
		content, err := g.render(relatedMarkdown(r))
		if err != nil {
			return nil, err
		}
		source := r.Title
		if r.Heading != "" {
			source += " / " + r.Heading
		}
		item := Suggestion{
			ID:        g.newID(),
			Title:     "Reference " + source,
			Content:   content,
			Reasoning: fmt.Sprintf("Related to %q.", query),
		}
		if r.Score > 0 {
			item.Confidence = confidence(r.Score)
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *Generator) render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render suggestion: %w", err)
	}
	return strings.TrimSpace(g.policy.Sanitize(buf.String())), nil
}

func missingSections(content string) []section {
	present := map[string]bool{}
	for _, match := range headingText.FindAllStringSubmatch(content, -1) {
		present[strings.ToLower(search.PlainText(match[1]))] = true
	}
	var missing []section
	for _, s := range outline {
		if !present[strings.ToLower(s.heading)] {
			missing = append(missing, s)
		}
	}
	return missing
}

func relatedMarkdown(r search.Result) string {
	quote := search.PlainText(r.Snippet)
	source := escapeMarkdown(r.Title)
	if r.Heading != "" {
		source += ", " + escapeMarkdown(r.Heading)
	}
	return "> " + escapeMarkdown(quote) + "\n\n*Source: " + source + "*"
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "#", `\#`, "<", `\<`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true, "from": true,
	"have": true, "into": true, "more": true, "only": true, "other": true, "over": true,
	"should": true, "some": true, "than": true, "that": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true, "this": true, "those": true,
	"were": true, "what": true, "when": true, "which": true, "while": true, "will": true,
	"with": true, "would": true, "your": true,
}

// keyTerms picks the most frequent meaningful words of text, most frequent
// first and ties in order of first appearance.
func keyTerms(text string) string {
	counts := map[string]int{}
	var order []string
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(word)) < 4 || stopWords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxQueryTerms {
		order = order[:maxQueryTerms]
	}
	return strings.Join(order, " ")
}

func confidence(v float64) *float64 {
	if v > 1 {
		v = 1
	}
	return &v
}
