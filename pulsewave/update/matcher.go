package update

import "regexp"

// Matcher decides whether a changed store path is relevant to a
// handler (spec §4.2).
type Matcher interface {
	Matches(name string) bool
}

// ExactPathMatcher matches a single literal path.
type ExactPathMatcher struct {
	Path string
}

func (m ExactPathMatcher) Matches(name string) bool { return name == m.Path }

// RegexPathMatcher matches any of a set of path patterns, combined into
// a single alternation (spec §4.2).
type RegexPathMatcher struct {
	re *regexp.Regexp
}

// NewRegexPathMatcher compiles patterns into one alternation. Panics on
// an invalid pattern, since handler registration happens at startup
// with patterns fixed in code, not user input.
func NewRegexPathMatcher(patterns []string) RegexPathMatcher {
	combined := patterns[0]
	for _, p := range patterns[1:] {
		combined += "|" + p
	}
	return RegexPathMatcher{re: regexp.MustCompile(combined)}
}

func (m RegexPathMatcher) Matches(name string) bool {
	return m.re.MatchString(name)
}
