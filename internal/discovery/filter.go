package discovery

import (
	"path"
	"strings"
)

// Filter filters test names by pattern
type Filter struct{}

// NewFilter creates a new Filter
func NewFilter() *Filter {
	return &Filter{}
}

// FilterByName filters names by a wildcard pattern.
// Supports patterns like "*Wall*", "Walls.Create?" or a plain substring.
func (f *Filter) FilterByName(names []string, pattern string) []string {
	if pattern == "" {
		return names
	}

	var filtered []string
	for _, name := range names {
		if f.Match(name, pattern) {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// Match reports whether a single name matches the pattern
func (f *Filter) Match(name, pattern string) bool {
	if pattern == "" {
		return true
	}

	// path.Match handles * and ? without treating '\' on Windows specially
	if matched, err := path.Match(pattern, name); err == nil && matched {
		return true
	}

	if !strings.ContainsAny(pattern, "*?") {
		return strings.Contains(name, pattern)
	}

	// path.Match stops '*' at '/', names with separators fall back to an anchored
	// scan: literal parts must appear in order, first and last ones anchored
	// unless the pattern starts or ends with '*'.
	parts := strings.Split(pattern, "*")
	if strings.Contains(pattern, "?") {
		return false
	}
	first, last := parts[0], parts[len(parts)-1]
	if !strings.HasPrefix(name, first) {
		return false
	}
	rest := name[len(first):]
	if len(parts) == 1 {
		return rest == ""
	}
	if !strings.HasSuffix(rest, last) {
		return false
	}
	rest = rest[:len(rest)-len(last)]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return true
}
