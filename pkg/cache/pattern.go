package cache

import "strings"

// matchPattern reports whether key matches a wildcard pattern. A pattern
// without "*" requires exact equality. With wildcards, the key must start
// with the prefix before the first "*", end with the suffix after the last
// "*", and contain every interior literal fragment in order, each located
// by a greedy leftmost scan.
func matchPattern(key, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return key == pattern
	}

	parts := strings.Split(pattern, "*")
	prefix := parts[0]
	suffix := parts[len(parts)-1]

	if len(key) < len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return false
	}

	middle := key[len(prefix) : len(key)-len(suffix)]
	for _, frag := range parts[1 : len(parts)-1] {
		if frag == "" {
			continue
		}
		idx := strings.Index(middle, frag)
		if idx < 0 {
			return false
		}
		middle = middle[idx+len(frag):]
	}
	return true
}
