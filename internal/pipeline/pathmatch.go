package pipeline

import (
	"net/url"
	"path"
	"strings"
)

// defaultProcurementPatterns are the site paths where agencies publish
// solicitations.
var defaultProcurementPatterns = []string{
	"/procurement*",
	"/bids*",
	"/bid-opportunities*",
	"/rfp*",
	"/rfps*",
	"/purchasing*",
	"/solicitations*",
	"/doing-business*",
	"/vendors*",
	"/contracts*",
}

// PathMatcher selects URLs whose path looks like a procurement section.
// Uses path.Match from stdlib for glob matching, plus a segmented match so
// "/bids*" also matches multi-level paths like "/bids/open/2026".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns. Falls back to the
// default procurement patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultProcurementPatterns
	}
	return &PathMatcher{patterns: patterns}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// Matches checks whether a URL path looks like a procurement page.
func (m *PathMatcher) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return m.matchesPath(u.Path)
}

func (m *PathMatcher) matchesPath(urlPath string) bool {
	urlPath = strings.ToLower(strings.TrimSuffix(urlPath, "/"))
	if urlPath == "" {
		return false
	}
	for _, pattern := range m.patterns {
		if matchSegmented(strings.ToLower(pattern), urlPath) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where a pattern like "/bids*"
// matches "/bids", "/bids-and-contracts" and "/bids/open/2026".
func matchSegmented(pattern, urlPath string) bool {
	// Try exact stdlib glob match first.
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}

	// A trailing "*" also matches deeper paths: check the first path segment
	// against the pattern so "/bids*" matches "/bids/open/2026".
	if strings.HasSuffix(pattern, "*") {
		segments := strings.SplitN(strings.TrimPrefix(urlPath, "/"), "/", 2)
		first := "/" + segments[0]
		if ok, _ := path.Match(pattern, first); ok {
			return true
		}
	}

	return false
}
