package proxy

import (
	"fmt"
	"regexp"
	"strings"
)

var slashRun = regexp.MustCompile(`/{2,}`)

// RewriteFunc maps a request URI (path plus optional "?query") to the
// upstream URI. prefix is the route's static prefix.
type RewriteFunc func(prefix, uri string) string

// Rule replaces matches of Pattern in the request URI.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewRule compiles a pattern/replacement pair.
func NewRule(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile rewrite pattern %q: %w", pattern, err)
	}
	return Rule{Pattern: re, Replacement: replacement}, nil
}

// ReplacePrefix returns a rule swapping a leading from segment for to.
func ReplacePrefix(from, to string) Rule {
	return Rule{
		Pattern:     regexp.MustCompile("^" + regexp.QuoteMeta(from)),
		Replacement: strings.ReplaceAll(to, "$", "$$"),
	}
}

// Rewriter turns an inbound request URI into the upstream one.
//
// Runs of slashes in the path are collapsed first. Then the rewrite
// function runs, followed by the rules in order. Finally, when a query is
// present and the path does not end in "/", a slash is inserted before
// "?" so that "/api/jobs?limit=1" reaches the upstream as
// "/api/jobs/?limit=1". Already normalized URIs pass through unchanged.
type Rewriter struct {
	fn               RewriteFunc
	rules            []Rule
	slashBeforeQuery bool
}

// RewriteOption configures a Rewriter.
type RewriteOption func(*Rewriter)

// WithRewriteFunc sets the rewrite function.
func WithRewriteFunc(fn RewriteFunc) RewriteOption {
	return func(rw *Rewriter) {
		rw.fn = fn
	}
}

// WithRules appends ordered rewrite rules.
func WithRules(rules ...Rule) RewriteOption {
	return func(rw *Rewriter) {
		rw.rules = append(rw.rules, rules...)
	}
}

// WithSlashBeforeQuery toggles the trailing slash insertion before "?".
func WithSlashBeforeQuery(enabled bool) RewriteOption {
	return func(rw *Rewriter) {
		rw.slashBeforeQuery = enabled
	}
}

// NewRewriter creates a Rewriter.
func NewRewriter(opts ...RewriteOption) *Rewriter {
	rw := &Rewriter{slashBeforeQuery: true}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

// Rewrite returns the upstream URI for uri. A nil Rewriter only
// normalizes.
func (rw *Rewriter) Rewrite(prefix, uri string) string {
	if rw == nil {
		rw = &Rewriter{slashBeforeQuery: true}
	}

	out := collapseSlashes(uri)
	if rw.fn != nil {
		out = rw.fn(prefix, out)
	}
	for _, rule := range rw.rules {
		out = rule.Pattern.ReplaceAllString(out, rule.Replacement)
	}
	out = collapseSlashes(out)

	if rw.slashBeforeQuery {
		out = slashBeforeQuery(out)
	}
	if out == "" || out[0] == '?' {
		out = "/" + out
	}
	return out
}

func collapseSlashes(uri string) string {
	path, query, hasQuery := strings.Cut(uri, "?")
	path = slashRun.ReplaceAllString(path, "/")
	if hasQuery {
		return path + "?" + query
	}
	return path
}

func slashBeforeQuery(uri string) string {
	path, query, hasQuery := strings.Cut(uri, "?")
	if !hasQuery || query == "" || strings.HasSuffix(path, "/") {
		return uri
	}
	return path + "/?" + query
}

func joinURLPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}
