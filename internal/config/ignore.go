package config

import (
	"path/filepath"
	"strings"
)

// IsSourceIgnored reports whether a "nick!user@host" identity matches any
// stored ignore pattern, grounded on app_config.py's is_source_ignored
// (fnmatch.fnmatchcase over a lowercased set of patterns). filepath.Match
// supports the same *, ?, and [...] wildcard classes fnmatch does for the
// glob-style patterns this ignore list uses.
func (c *Config) IsSourceIgnored(sourceFullIdent string) bool {
	if sourceFullIdent == "" {
		return false
	}
	lower := strings.ToLower(sourceFullIdent)
	for pattern := range c.IgnorePatterns {
		if matched, err := filepath.Match(pattern, lower); err == nil && matched {
			return true
		}
	}
	return false
}

// AddIgnorePattern normalizes and stores a pattern, reporting whether it was
// newly added.
func (c *Config) AddIgnorePattern(pattern string) bool {
	normalized := strings.ToLower(strings.TrimSpace(pattern))
	if normalized == "" || c.IgnorePatterns[normalized] {
		return false
	}
	c.IgnorePatterns[normalized] = true
	return true
}

// RemoveIgnorePattern removes a pattern, reporting whether it was present.
func (c *Config) RemoveIgnorePattern(pattern string) bool {
	normalized := strings.ToLower(strings.TrimSpace(pattern))
	if !c.IgnorePatterns[normalized] {
		return false
	}
	delete(c.IgnorePatterns, normalized)
	return true
}
