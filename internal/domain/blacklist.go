package domain

import (
	"strings"
	"time"
)

// Pattern is a case-insensitive glob. '*' matches any run of characters,
// everything else is literal, and the whole target must match.
type Pattern struct {
	raw   string
	parts []string
}

func NewPattern(raw string) (Pattern, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pattern{}, false
	}

	return Pattern{
		raw:   raw,
		parts: strings.Split(FoldCase(raw), "*"),
	}, true
}

func (p Pattern) String() string {
	return p.raw
}

// Matches reports whether the folded target matches the pattern.
func (p Pattern) Matches(target string) bool {
	if target == "" || len(p.parts) == 0 {
		return false
	}

	if len(p.parts) == 1 {
		return target == p.parts[0]
	}

	if !strings.HasPrefix(target, p.parts[0]) {
		return false
	}
	rest := target[len(p.parts[0]):]

	last := len(p.parts) - 1
	for _, part := range p.parts[1:last] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}

	return strings.HasSuffix(rest, p.parts[last])
}

// BlacklistSnapshot is an immutable (patterns, version) pair. Replace it,
// never edit it.
type BlacklistSnapshot struct {
	version   int64
	patterns  []Pattern
	createdAt time.Time
}

// NewBlacklistSnapshot compiles patterns in order. Blank patterns are dropped.
func NewBlacklistSnapshot(version int64, patterns []string) *BlacklistSnapshot {
	compiled := make([]Pattern, 0, len(patterns))
	for _, raw := range patterns {
		if p, ok := NewPattern(raw); ok {
			compiled = append(compiled, p)
		}
	}

	return &BlacklistSnapshot{
		version:   version,
		patterns:  compiled,
		createdAt: time.Now(),
	}
}

func (s *BlacklistSnapshot) Version() int64 {
	return s.version
}

// Patterns returns a copy of the raw patterns in evaluation order.
func (s *BlacklistSnapshot) Patterns() []string {
	out := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = p.raw
	}
	return out
}

func (s *BlacklistSnapshot) Len() int {
	return len(s.patterns)
}

func (s *BlacklistSnapshot) CreatedAt() time.Time {
	return s.createdAt
}

// Match returns the first pattern matching target. Order is the snapshot
// order; the matcher does not reorder by specificity.
func (s *BlacklistSnapshot) Match(target string) (string, bool) {
	if s == nil || target == "" {
		return "", false
	}

	for _, p := range s.patterns {
		if p.Matches(target) {
			return p.raw, true
		}
	}

	return "", false
}
