package moderation

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"whatyousayin/pkg/types"
)

const filterReason = "Content contains inappropriate language"

// Filter is the local deny-list fallback used when the remote gate is
// unavailable. Matching runs an Aho-Corasick automaton over a normalized
// view of the content, so spacing, punctuation and leet substitutions do
// not defeat it.
type Filter struct {
	matcher *goahocorasick.Machine
}

// NewFilter builds the automaton from the deny list. An empty list
// yields a filter that passes everything, matching the behavior of an
// unconfigured deployment.
func NewFilter(words []string) (*Filter, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		normalized := normalizeRunes([]rune(word))
		if len(normalized) > 0 {
			patterns = append(patterns, normalized)
		}
	}
	if len(patterns) == 0 {
		return &Filter{}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{matcher: m}, nil
}

// NewFilterFromFile loads one deny word per line; blank lines and
// #-comments are skipped.
func NewFilterFromFile(path string) (*Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewFilter(words)
}

// Check classifies content against the deny list.
func (f *Filter) Check(content string) types.Verdict {
	if f.matcher == nil {
		return types.Safe()
	}

	normalized := normalizeRunes([]rune(content))
	if len(normalized) == 0 {
		return types.Safe()
	}

	if hits := f.matcher.MultiPatternSearch(normalized, true); len(hits) > 0 {
		return types.Unsafe(filterReason)
	}
	return types.Safe()
}

// normalizeRunes lowercases, maps common leet substitutions back to
// letters and strips punctuation, spacing and symbols.
func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
