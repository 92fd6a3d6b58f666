package editor

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	blockPolicy  = bluemonday.UGCPolicy()
	blockElement = regexp.MustCompile(`^<(p|h[1-6]|ul|ol|blockquote|pre|table|div|section|hr|figure)[\s>/]`)
)

// appendBlock sanitizes block and appends it to content as a new block
// element. Inline markup and bare text are wrapped in a paragraph.
func appendBlock(content, block string) string {
	block = strings.TrimSpace(blockPolicy.Sanitize(block))
	if block == "" {
		return content
	}
	if !blockElement.MatchString(block) {
		block = "<p>" + block + "</p>"
	}
	if strings.TrimSpace(content) == "" {
		return block
	}
	return strings.TrimRight(content, "\n") + "\n" + block
}
