package strings

import (
	"strconv"
	"strings"
)

// DefaultColumnMaxLen bounds free-text table cells such as image lists.
const DefaultColumnMaxLen = 40

// DefaultMessageMaxLen bounds error messages shown in table output.
const DefaultMessageMaxLen = 120

// MinTruncateLen leaves room for one character plus "...".
const MinTruncateLen = 4

// Truncate collapses all whitespace to single spaces and cuts s to at most
// maxLen runes, ending in "..." when cut. maxLen below MinTruncateLen is
// raised to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// JoinTruncated joins items with sep and truncates the result to maxLen.
// When items are dropped the suffix names how many, e.g. "a,b,+3 more".
func JoinTruncated(items []string, sep string, maxLen int) string {
	joined := strings.Join(items, sep)
	if len([]rune(joined)) <= maxLen {
		return joined
	}
	for keep := len(items) - 1; keep > 0; keep-- {
		out := strings.Join(items[:keep], sep) + sep + "+" + strconv.Itoa(len(items)-keep) + " more"
		if len([]rune(out)) <= maxLen {
			return out
		}
	}
	return Truncate(joined, maxLen)
}
