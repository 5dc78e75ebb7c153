package registry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestParser_detectFormat(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name     string
		data     []byte
		expected string
		wantErr  bool
	}{
		{
			name:     "JSON object",
			data:     []byte(`  {"version": 1, "patterns": []}`),
			expected: "json",
		},
		{
			name:     "JSON array",
			data:     []byte(`["*/login*"]`),
			expected: "json-array",
		},
		{
			name:    "whitespace only",
			data:    []byte("   \n"),
			wantErr: true,
		},
		{
			name:    "Unknown format",
			data:    []byte("random binary data"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := parser.detectFormat(tt.data)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if format != tt.expected {
				t.Errorf("expected format %q, got %q", tt.expected, format)
			}
		})
	}
}

func TestParser_Parse(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name         string
		data         string
		wantVersion  int64
		wantPatterns []string
	}{
		{
			name:         "patterns key",
			data:         `{"version": 2, "patterns": ["*/signin*", "*oauth*"]}`,
			wantVersion:  2,
			wantPatterns: []string{"*/signin*", "*oauth*"},
		},
		{
			name:         "uri_skip_list alias",
			data:         `{"version": 5, "uri_skip_list": ["*/login*"]}`,
			wantVersion:  5,
			wantPatterns: []string{"*/login*"},
		},
		{
			name:         "patterns wins over alias",
			data:         `{"version": 1, "patterns": ["a*"], "uri_skip_list": ["b*"]}`,
			wantVersion:  1,
			wantPatterns: []string{"a*"},
		},
		{
			name:         "blank patterns dropped",
			data:         `{"version": 3, "patterns": ["*/login*", "  ", ""]}`,
			wantVersion:  3,
			wantPatterns: []string{"*/login*"},
		},
		{
			name:         "empty list is valid",
			data:         `{"version": 9, "patterns": []}`,
			wantVersion:  9,
			wantPatterns: []string{},
		},
		{
			name:         "float-encoded integer version",
			data:         `{"version": 4.0, "patterns": ["x*"]}`,
			wantVersion:  4,
			wantPatterns: []string{"x*"},
		},
		{
			name:         "unknown keys ignored",
			data:         `{"version": 1, "patterns": ["x*"], "ttl": 3600}`,
			wantVersion:  1,
			wantPatterns: []string{"x*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, err := parser.Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if snapshot.Version() != tt.wantVersion {
				t.Errorf("version = %d, want %d", snapshot.Version(), tt.wantVersion)
			}

			got := snapshot.Patterns()
			if strings.Join(got, "|") != strings.Join(tt.wantPatterns, "|") || len(got) != len(tt.wantPatterns) {
				t.Errorf("patterns = %v, want %v", got, tt.wantPatterns)
			}
		})
	}
}

func TestParser_ParseErrors(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "", ErrEmptyData},
		{"not json", "version=2", ErrUnsupportedFormat},
		{"array payload", `["*/login*"]`, ErrUnsupportedFormat},
		{"truncated json", `{"version": 2, "patterns": [`, ErrInvalidFormat},
		{"missing version", `{"patterns": ["*"]}`, ErrInvalidFormat},
		{"string version", `{"version": "2", "patterns": ["*"]}`, ErrInvalidFormat},
		{"fractional version", `{"version": 2.5, "patterns": ["*"]}`, ErrInvalidFormat},
		{"negative version", `{"version": -1, "patterns": ["*"]}`, ErrInvalidFormat},
		{"version above int64", `{"version": 9223372036854775808, "patterns": ["*"]}`, ErrInvalidFormat},
		{"inexact exponent version", `{"version": 1e300, "patterns": ["*"]}`, ErrInvalidFormat},
		{"missing patterns", `{"version": 2}`, ErrInvalidFormat},
		{"patterns not a list", `{"version": 2, "patterns": "*"}`, ErrInvalidFormat},
		{"non-string pattern", `{"version": 2, "patterns": ["*", 7]}`, ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, err := parser.Parse([]byte(tt.data))
			if err == nil {
				t.Fatalf("expected error, got snapshot %v", snapshot.Patterns())
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParser_VersionRange(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name string
		data string
		want int64
	}{
		{"exponent form", `{"version": 2e3, "patterns": []}`, 2000},
		{"above float precision", `{"version": 9007199254740993, "patterns": []}`, 9007199254740993},
		{"max int64", `{"version": 9223372036854775807, "patterns": []}`, math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot, err := parser.Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if snapshot.Version() != tt.want {
				t.Errorf("version = %d, want %d", snapshot.Version(), tt.want)
			}
		})
	}
}

func TestParser_PatternLimit(t *testing.T) {
	parser := NewParser()
	parser.maxPatterns = 2

	_, err := parser.Parse([]byte(`{"version": 1, "patterns": ["a*", "b*", "c*"]}`))
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("error = %v, want %v", err, ErrInvalidFormat)
	}

	var parseErr *ParsingError
	if !errors.As(err, &parseErr) || parseErr.Format != "json" {
		t.Errorf("expected ParsingError for json, got %v", err)
	}
}

func TestParsingError_Error(t *testing.T) {
	err := NewParsingErrorWithPosition("json", 0, 3, fmt.Errorf("boom"))
	want := "parsing json format failed at line 0, column 3: boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
