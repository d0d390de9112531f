package utils

import (
	"path/filepath"
	"regexp"
)

// PatternMatcher filters batch-scan candidates. A pattern matches when
// it globs against the file's base name or, failing that, compiles as
// a regular expression matching the full path.
type PatternMatcher struct {
	include matcherSet
	exclude matcherSet
}

type matcherSet struct {
	globs   []string
	regexes []*regexp.Regexp
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	return &PatternMatcher{
		include: newMatcherSet(includePatterns),
		exclude: newMatcherSet(excludePatterns),
	}
}

func newMatcherSet(patterns []string) matcherSet {
	set := matcherSet{
		globs: append([]string(nil), patterns...),
	}
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			set.regexes = append(set.regexes, re)
		}
	}
	return set
}

func (s matcherSet) empty() bool {
	return len(s.globs) == 0 && len(s.regexes) == 0
}

func (s matcherSet) matches(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range s.globs {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range s.regexes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// ShouldInclude reports whether a path passes the include/exclude
// rules. With no include patterns everything is eligible.
func (m *PatternMatcher) ShouldInclude(path string) bool {
	if m == nil {
		return true
	}
	if !m.include.empty() && !m.include.matches(path) {
		return false
	}
	if !m.exclude.empty() && m.exclude.matches(path) {
		return false
	}
	return true
}
