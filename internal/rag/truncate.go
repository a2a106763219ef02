package rag

import (
	"strings"

	"studyscope/internal/models"
)

const DefaultAnswerWordLimit = 250

// TruncateWords keeps the first limit words of s and appends the truncation
// marker when anything was cut. Text within the limit is returned unchanged.
func TruncateWords(s string, limit int) (string, bool) {
	if limit <= 0 {
		limit = DefaultAnswerWordLimit
	}
	words := strings.Fields(s)
	if len(words) <= limit {
		return s, false
	}
	return strings.Join(words[:limit], " ") + models.TruncationMarker, true
}
