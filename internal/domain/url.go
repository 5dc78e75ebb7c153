package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// URL pairs a raw URL with the string the blacklist matches against.
type URL struct {
	original string
	target   string
}

func NewURL(rawURL string) (*URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}

	return &URL{
		original: rawURL,
	}, nil
}

func (u *URL) Original() string {
	return u.original
}

// MatchTarget is the folded host/path/query/fragment form of the URL.
func (u *URL) MatchTarget() string {
	return u.target
}

func (u *URL) SetMatchTarget(target string) {
	u.target = target
}

func (u *URL) IsValid() bool {
	return u.original != "" && u.target != ""
}

// FoldCase applies Unicode case folding. Patterns and match targets must both
// go through it so comparisons are case-insensitive.
func FoldCase(s string) string {
	// A Caser keeps state between calls and must not be shared.
	return cases.Fold().String(s)
}

func IsValidDomain(domain string) bool {
	if domain == "" {
		return false
	}

	if len(domain) > 253 {
		return false
	}

	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}

	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return false
	}

	for _, part := range parts {
		if part == "" || len(part) > 63 {
			return false
		}

		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return false
		}
	}

	return true
}
