package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, "prefix_" followed by 32 hex digits.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
