package types

import (
	"strings"
	"unicode/utf8"
)

// MaxContentRunes is the default upper bound on message length, counted
// in characters rather than bytes.
const MaxContentRunes = 10000

// NormalizeContent trims surrounding whitespace from message content.
// Length checks apply to the normalized form.
func NormalizeContent(content string) string {
	return strings.TrimSpace(content)
}

// ValidateContent checks normalized content against the emptiness and
// length rules. maxRunes <= 0 falls back to MaxContentRunes.
func ValidateContent(content string, maxRunes int) error {
	if content == "" {
		return ErrEmptyContent
	}
	if maxRunes <= 0 {
		maxRunes = MaxContentRunes
	}
	if utf8.RuneCountInString(content) > maxRunes {
		return ErrContentTooLong
	}
	return nil
}
