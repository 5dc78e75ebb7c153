package domain

import (
	"testing"
)

func TestNewURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		wantErr bool
	}{
		{
			name:    "valid URL",
			rawURL:  "https://example.com",
			wantErr: false,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "whitespace URL",
			rawURL:  "   ",
			wantErr: true,
		},
		{
			name:    "complex URL",
			rawURL:  "https://sub.example.com:8080/path?query=1#fragment",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := NewURL(tt.rawURL)

			if tt.wantErr {
				if err == nil {
					t.Errorf("NewURL() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("NewURL() unexpected error: %v", err)
				return
			}

			if url.Original() != tt.rawURL {
				t.Errorf("NewURL() original = %v, want %v", url.Original(), tt.rawURL)
			}
		})
	}
}

func TestURL_SetMatchTarget(t *testing.T) {
	url, _ := NewURL("https://Example.Com/Login")

	if url.IsValid() {
		t.Errorf("IsValid() = true before a match target was set")
	}

	url.SetMatchTarget("example.com/login")

	if url.MatchTarget() != "example.com/login" {
		t.Errorf("SetMatchTarget() = %v, want %v", url.MatchTarget(), "example.com/login")
	}

	if !url.IsValid() {
		t.Errorf("IsValid() = false, want true")
	}
}

func TestFoldCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"EXAMPLE.COM/Login", "example.com/login"},
		{"already-folded", "already-folded"},
		{"ÄPFEL", "äpfel"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := FoldCase(tt.in); got != tt.want {
			t.Errorf("FoldCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		want   bool
	}{
		{"valid domain", "example.com", true},
		{"valid subdomain", "sub.example.com", true},
		{"empty domain", "", false},
		{"single label", "localhost", false},
		{"starts with dot", ".example.com", false},
		{"ends with dot", "example.com.", false},
		{"too long domain", string(make([]byte, 254)), false},
		{"label starts with hyphen", "-example.com", false},
		{"label ends with hyphen", "example-.com", false},
		{"too long label", string(make([]byte, 64)) + ".com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidDomain(tt.domain); got != tt.want {
				t.Errorf("IsValidDomain() = %v, want %v", got, tt.want)
			}
		})
	}
}
