// Package match implements the text pipeline of the monitor: candidate
// normalisation, keyword matching, fingerprint deduplication, and the
// Pipeline that chains them. The pipeline is shared by the mutation
// watcher and the full-scan fallback so both paths see the same
// deduplication state.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// stripTags removes any markup from candidate text. Mutation batches
// normally carry plain textContent, but full scans over serialised
// fragments can leak tags through.
var stripTags = bluemonday.StrictPolicy()

var (
	multiSpaceRe = regexp.MustCompile(`\s+`)
	// Host pages render the same timestamp twice (hover title + visible
	// label); the duplicates end up concatenated in textContent.
	dupTimeRe  = regexp.MustCompile(`(?i)(\d{1,2}:\d{2}\s*(?:AM|PM)?)\s*(?:\d{1,2}:\d{2}\s*(?:AM|PM)?)+`)
	dupDayRe   = regexp.MustCompile(`(?i)\b(today|yesterday)\s+(today|yesterday)\b`)
	adminTagRe = regexp.MustCompile(`(?i)\b(?:admin|administrator|bot)\b`)
)

// Normalize cleans extracted candidate text into the canonical form used
// for matching and hashing: markup stripped, zero-width runes removed,
// duplicated timestamp/date/domain boilerplate collapsed, whitespace
// collapsed, trimmed.
func Normalize(text string) string {
	if strings.ContainsRune(text, '<') {
		text = stripTags.Sanitize(text)
	}

	// Zero-width characters survive textContent extraction.
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)

	text = dupTimeRe.ReplaceAllString(text, "$1")
	text = dupDayRe.ReplaceAllString(text, "$1")
	text = collapseAdjacentDuplicates(text)
	text = adminTagRe.ReplaceAllString(text, "")

	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// collapseAdjacentDuplicates removes an immediately repeated word-like
// token (dates, domains, words rendered twice by the host layout).
func collapseAdjacentDuplicates(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return text
	}
	out := fields[:1]
	for _, f := range fields[1:] {
		if f == out[len(out)-1] {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// NormalizeForHash prepares text for fingerprinting. More aggressive than
// Normalize: lowercases and drops everything except letters, digits and
// spaces, so cosmetic re-renders of the same message hash identically.
func NormalizeForHash(text string) string {
	text = strings.ToLower(Normalize(text))
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
}
