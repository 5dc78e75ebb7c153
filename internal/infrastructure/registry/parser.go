package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

const maxExactFloat = 1 << 53

// Parser decodes the blacklist payload served by the API:
//
//	{"version": 2, "patterns": ["*/login*", ...]}
//
// "uri_skip_list" is accepted as an alias for "patterns".
type Parser struct {
	maxPatterns int
}

func NewParser() *Parser {
	return &Parser{maxPatterns: 10000}
}

type payload struct {
	Version     json.RawMessage `json:"version"`
	Patterns    []any           `json:"patterns"`
	URISkipList []any           `json:"uri_skip_list"`
}

// Parse validates data and returns a new snapshot. Partial results are never
// returned: one bad pattern rejects the whole payload.
func (p *Parser) Parse(data []byte) (*domain.BlacklistSnapshot, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	format, err := p.detectFormat(data)
	if err != nil {
		return nil, fmt.Errorf("detecting format: %w", err)
	}

	if format != "json" {
		return nil, NewParsingError(format, ErrUnsupportedFormat)
	}

	return p.parseJSON(data)
}

func (p *Parser) detectFormat(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", ErrEmptyData
	}

	switch trimmed[0] {
	case '{':
		return "json", nil
	case '[':
		return "json-array", nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func (p *Parser) parseJSON(data []byte) (*domain.BlacklistSnapshot, error) {
	var body payload
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, NewParsingError("json", fmt.Errorf("%w: %v", ErrInvalidFormat, err))
	}

	version, err := p.parseVersion(body.Version)
	if err != nil {
		return nil, NewParsingError("json", err)
	}

	raw := body.Patterns
	if raw == nil {
		raw = body.URISkipList
	}
	if raw == nil {
		return nil, NewParsingError("json", fmt.Errorf("%w: patterns missing", ErrInvalidFormat))
	}

	if len(raw) > p.maxPatterns {
		return nil, NewParsingError("json", fmt.Errorf("%w: %d patterns exceeds limit %d", ErrInvalidFormat, len(raw), p.maxPatterns))
	}

	patterns := make([]string, 0, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, NewParsingErrorWithPosition("json", 0, i, fmt.Errorf("%w: pattern is %T, not a string", ErrInvalidFormat, v))
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		patterns = append(patterns, s)
	}

	return domain.NewBlacklistSnapshot(version, patterns), nil
}

func (p *Parser) parseVersion(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: version missing", ErrInvalidFormat)
	}

	// Quoted numbers are rejected; json.Number alone would accept them.
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, fmt.Errorf("%w: version %s is not a number", ErrInvalidFormat, raw)
	}

	v := json.Number(raw)
	n, err := v.Int64()
	if err != nil {
		// Only exponent forms like 2e3 get here; above 2^53 a double no
		// longer names a single integer.
		f, ferr := v.Float64()
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
			return 0, fmt.Errorf("%w: version %q is not an exact integer", ErrInvalidFormat, v.String())
		}
		n = int64(f)
	}

	if n < 0 {
		return 0, fmt.Errorf("%w: version %d is negative", ErrInvalidFormat, n)
	}

	return n, nil
}
