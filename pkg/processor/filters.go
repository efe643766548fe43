package processor

import (
	"regexp"
	"strings"

	"github.com/skimreader/skim/pkg/feed"
)

// maxPatternLength bounds user-supplied filter patterns.
const maxPatternLength = 512

// passesTypeFilter rejects items whose interaction kind is excluded by the
// channel settings.
func passesTypeFilter(excludeTypes []string, it *feed.Item) bool {
	if len(excludeTypes) == 0 {
		return true
	}
	kind := it.PostType()
	for _, excluded := range excludeTypes {
		if kind == excluded {
			return false
		}
	}
	return true
}

// compilePattern compiles the channel's exclusion pattern once per batch.
// Oversized or invalid patterns fail open (nil), so a bad filter never
// blocks ingestion.
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "" || len(pattern) > maxPatternLength {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re
}

// matchesPattern reports whether the item's textual fields match the
// exclusion pattern.
func matchesPattern(re *regexp.Regexp, it *feed.Item) bool {
	if re == nil {
		return false
	}

	var parts []string
	if it.Name != "" {
		parts = append(parts, it.Name)
	}
	if it.Summary != "" {
		parts = append(parts, it.Summary)
	}
	if it.Content != nil {
		parts = append(parts, it.Content.Text, it.Content.HTML)
	}
	return re.MatchString(strings.Join(parts, " "))
}
