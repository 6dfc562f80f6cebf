package match

import "strings"

// Match evaluates normalised text against the keyword list and returns
// the matched keyword, or ok=false when nothing matched.
//
// Combined keywords (containing a space) are evaluated first: every token
// must appear as a case-insensitive substring, order-independent. They
// short-circuit single-token keywords because they are more specific and
// are meant to suppress noisy single-word hits on the same message.
func Match(text string, keywords []string) (keyword string, ok bool) {
	lower := strings.ToLower(text)

	for _, kw := range keywords {
		if !strings.Contains(kw, " ") {
			continue
		}
		if allTokensContained(lower, kw) {
			return kw, true
		}
	}

	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			continue
		}
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}

	return "", false
}

func allTokensContained(lower, combined string) bool {
	matched := false
	for _, tok := range strings.Fields(combined) {
		if !strings.Contains(lower, strings.ToLower(tok)) {
			return false
		}
		matched = true
	}
	return matched
}
