package executor

import "unicode/utf8"

// TruncationMarker is appended to every truncated output.
const TruncationMarker = "...(truncated)"

// Truncate keeps the first limit characters of s and appends
// TruncationMarker when s is longer than limit characters. Strings within
// the limit are returned unchanged. Truncating an already truncated string
// returns it as is, because its first limit characters and the marker
// are the same. A limit <= 0 disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	i, n := 0, 0
	for i < len(s) && n < limit {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n++
	}
	if i >= len(s) {
		return s
	}
	return s[:i] + TruncationMarker
}

// IsTruncated reports whether s ends with TruncationMarker.
func IsTruncated(s string) bool {
	return len(s) >= len(TruncationMarker) && s[len(s)-len(TruncationMarker):] == TruncationMarker
}
