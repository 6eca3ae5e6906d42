package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher priorities. Higher matches first.
const (
	priorityExact             = 1000
	priorityParameter         = 800
	priorityPrefix            = 500
	priorityRegex             = 100
	priorityMethodRestriction = 50
)

// PathMatcher matches a request path.
type PathMatcher interface {
	Match(path string) (bool, map[string]string)
	// Static is the literal leading part of the pattern.
	Static() string
	Priority() int
	Type() string
}

type exactMatcher struct {
	path string
}

func newExactMatcher(path string) (PathMatcher, error) {
	if strings.Contains(path, "{") {
		return newParamMatcher(path, true)
	}
	return &exactMatcher{path: strings.TrimSuffix(path, "/")}, nil
}

func (m *exactMatcher) Match(path string) (bool, map[string]string) {
	return strings.TrimSuffix(path, "/") == m.path, nil
}

func (m *exactMatcher) Static() string { return m.path }
func (m *exactMatcher) Priority() int  { return priorityExact }
func (m *exactMatcher) Type() string   { return "exact" }

// prefixMatcher matches at segment boundaries: /api/jobs matches
// /api/jobs and /api/jobs/1 but not /api/jobsearch.
type prefixMatcher struct {
	prefix string
}

func newPrefixMatcher(prefix string) (PathMatcher, error) {
	if strings.Contains(prefix, "{") {
		return newParamMatcher(prefix, false)
	}
	return &prefixMatcher{prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (m *prefixMatcher) Match(path string) (bool, map[string]string) {
	if m.prefix == "" {
		return true, nil
	}
	if !strings.HasPrefix(path, m.prefix) {
		return false, nil
	}
	return len(path) == len(m.prefix) || path[len(m.prefix)] == '/', nil
}

func (m *prefixMatcher) Static() string { return m.prefix }
func (m *prefixMatcher) Priority() int  { return priorityPrefix + len(m.prefix) }
func (m *prefixMatcher) Type() string   { return "prefix" }

// paramMatcher handles patterns like /api/jobs/{id}.
type paramMatcher struct {
	pattern string
	static  string
	exact   bool
	re      *regexp.Regexp
	depth   int
}

func newParamMatcher(pattern string, exact bool) (PathMatcher, error) {
	var b strings.Builder
	b.WriteString("^")

	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	static := ""
	inStatic := true
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteString("/")
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, fmt.Errorf("empty parameter name in %q", pattern)
			}
			fmt.Fprintf(&b, "(?P<%s>[^/]+)", name)
			inStatic = false
			continue
		}
		b.WriteString(regexp.QuoteMeta(part))
		if inStatic {
			static += "/" + part
		}
	}
	if exact {
		b.WriteString("/?$")
	} else {
		b.WriteString("(?:/|$)")
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
	}
	return &paramMatcher{pattern: pattern, static: static, exact: exact, re: re, depth: len(parts)}, nil
}

func (m *paramMatcher) Match(path string) (bool, map[string]string) {
	return submatches(m.re, path)
}

func (m *paramMatcher) Static() string { return m.static }
func (m *paramMatcher) Type() string   { return "parameter" }

func (m *paramMatcher) Priority() int {
	if m.exact {
		return priorityParameter + m.depth
	}
	return priorityPrefix + len(m.static)
}

type regexMatcher struct {
	re *regexp.Regexp
}

func newRegexMatcher(pattern string) (PathMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid path regex %q: %w", pattern, err)
	}
	return &regexMatcher{re: re}, nil
}

func (m *regexMatcher) Match(path string) (bool, map[string]string) {
	return submatches(m.re, path)
}

func (m *regexMatcher) Static() string {
	prefix, _ := m.re.LiteralPrefix()
	return strings.TrimSuffix(prefix, "/")
}

func (m *regexMatcher) Priority() int { return priorityRegex }
func (m *regexMatcher) Type() string  { return "regex" }

func submatches(re *regexp.Regexp, path string) (bool, map[string]string) {
	matches := re.FindStringSubmatch(path)
	if matches == nil {
		return false, nil
	}
	var params map[string]string
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[name] = matches[i]
	}
	return true, params
}
