// Package reference finds tracker item keys in free text.
package reference

import (
	"fmt"
	"regexp"
	"sort"
)

// Compile turns configured patterns into regexes. A bad pattern fails here, never
// during extraction.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile ref pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Extract returns every item key matched by any pattern, de-duplicated and sorted.
// When a pattern has a capture group the first group is the key, otherwise the whole match.
func Extract(text string, patterns []*regexp.Regexp) []string {
	seen := map[string]struct{}{}
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			key := m[0]
			if len(m) > 1 && m[1] != "" {
				key = m[1]
			}
			seen[key] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set holds the compiled patterns per project. Patterns under "*" apply everywhere.
type Set struct {
	byProject map[string][]*regexp.Regexp
}

func NewSet(cfg map[string][]string) (*Set, error) {
	s := &Set{byProject: make(map[string][]*regexp.Regexp, len(cfg))}
	for project, pats := range cfg {
		res, err := Compile(pats)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", project, err)
		}
		s.byProject[project] = res
	}
	return s, nil
}

// For returns the patterns that apply to project.
func (s *Set) For(project string) []*regexp.Regexp {
	if s == nil {
		return nil
	}
	pats := append([]*regexp.Regexp{}, s.byProject["*"]...)
	if project != "*" {
		pats = append(pats, s.byProject[project]...)
	}
	return pats
}

// All returns every configured pattern, used when the project of a text is unknown.
func (s *Set) All() []*regexp.Regexp {
	if s == nil {
		return nil
	}
	projects := make([]string, 0, len(s.byProject))
	for p := range s.byProject {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	var pats []*regexp.Regexp
	for _, p := range projects {
		pats = append(pats, s.byProject[p]...)
	}
	return pats
}
