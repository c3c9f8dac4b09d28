// Package urlutil provides URL canonicalization and pattern matching used
// by the frontier for deduplication and scope decisions.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidURL indicates the input could not be parsed as an absolute URL.
var ErrInvalidURL = errors.New("invalid url")

// Normalize canonicalizes a URL for frontier deduplication. It lowercases
// the scheme and host, strips the fragment and default ports, and rewrites
// an empty path to "/". Query strings are kept verbatim: two URLs differing
// only in query-parameter order are distinct.
func Normalize(rawURL string) (string, error) {
	u, err := Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Parse is Normalize returning the parsed form for callers that need the
// components (origin checks, pattern matching).
func Parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: not absolute: %s", ErrInvalidURL, rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" || strings.Trim(u.Path, "/") == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u, nil
}

// Origin returns the scheme://host[:port] prefix of a URL.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// SameOrigin reports whether two URLs share scheme, host, and port exactly.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Scheme == b.Scheme && strings.EqualFold(a.Host, b.Host)
}

// Matcher evaluates include/exclude glob patterns against a URL's
// path+query. The wildcard * matches any substring. An empty include set
// matches everything.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewMatcher compiles the pattern sets. A malformed pattern is a
// configuration error and fails construction.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	return &Matcher{include: inc, exclude: exc}, nil
}

// Allow reports whether the URL passes the include/exclude filters.
func (m *Matcher) Allow(u *url.URL) bool {
	if m == nil {
		return true
	}
	target := pathQuery(u)
	if len(m.include) > 0 && !matchAny(m.include, target) {
		return false
	}
	if matchAny(m.exclude, target) {
		return false
	}
	return true
}

func pathQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	target := u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func matchAny(globs []glob.Glob, target string) bool {
	for _, g := range globs {
		if g.Match(target) {
			return true
		}
	}
	return false
}
