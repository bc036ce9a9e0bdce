package fs

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestGetUserPath(t *testing.T) {
	path, err := GetUserPath()
	if err != nil {
		t.Fatalf("GetUserPath failed: %v", err)
	}
	if path == "" {
		t.Error("GetUserPath returned empty path")
	}
	if !filepath.IsAbs(path) {
		t.Errorf("GetUserPath returned relative path: %q", path)
	}
}

func TestExpandConfigDir(t *testing.T) {
	home, err := GetUserPath()
	if err != nil {
		t.Fatalf("GetUserPath failed: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"tilde only", "~", home},
		{"tilde prefix", "~/custom/dir", filepath.Join(home, "custom", "dir")},
		{"absolute", "/tmp/lmbridge", "/tmp/lmbridge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandConfigDir(tt.input)
			if err != nil {
				t.Fatalf("ExpandConfigDir(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExpandConfigDir(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandConfigDir_Relative(t *testing.T) {
	got, err := ExpandConfigDir("some/relative/dir")
	if err != nil {
		t.Fatalf("ExpandConfigDir failed: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("Expected absolute path, got %q", got)
	}
	if !strings.HasSuffix(got, filepath.Join("some", "relative", "dir")) {
		t.Errorf("Expected path ending in some/relative/dir, got %q", got)
	}
}
