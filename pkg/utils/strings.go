package utils

// Truncate returns s cut to at most n runes. The cut is plain, with no
// ellipsis, so callers can use the result as a stable matching pattern.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
