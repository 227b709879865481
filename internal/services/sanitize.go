package services

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxCancelReasonLength = 500
	maxNotesLength        = 1000
	maxCouponLength       = 64
)

var plainTextPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup and surrounding whitespace. ok is false when the result exceeds limit runes.
func sanitizeText(value string, limit int) (string, bool) {
	cleaned := strings.TrimSpace(html.UnescapeString(plainTextPolicy.Sanitize(value)))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		return cleaned, false
	}
	return cleaned, true
}
