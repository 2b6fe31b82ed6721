// Package slug turns note titles into file names.
package slug

import (
	"strconv"
	"strings"
)

// Make lower-cases title, replaces every run of characters outside
// [a-z0-9] with a single dash and trims dashes from both ends. The result
// is empty when title has no usable characters.
func Make(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	dash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// Unique returns base if taken reports false for it, otherwise the first of
// base-2, base-3, ... that is free.
func Unique(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
