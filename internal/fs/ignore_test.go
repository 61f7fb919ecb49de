package fs

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestNewIgnoreMatcher_Patterns(t *testing.T) {
	m := NewIgnoreMatcher([]string{"", "   ", "# thumbnails", " Thumbs.db ", "cache/*"})

	want := []string{IgnoreFileName, "Thumbs.db", "cache/*"}
	if got := m.Patterns(); !slices.Equal(got, want) {
		t.Errorf("Patterns() = %v, want %v", got, want)
	}

	kinds := map[string]bool{}
	for _, p := range m.patterns {
		kinds[p.pattern] = p.matchPath
	}
	if kinds["Thumbs.db"] {
		t.Error("Thumbs.db classified as a path pattern")
	}
	if !kinds["cache/*"] {
		t.Error("cache/* classified as a basename pattern")
	}
}

func TestIgnoreMatcher_Match(t *testing.T) {
	photos := []string{"*.tmp", ".git", "Thumbs.db", "exports/*.jpg", "raw/?.cr2", "*.[xX][mM][pP]"}

	tests := []struct {
		name     string
		patterns []string
		rel      string
		want     bool
	}{
		{"basename glob at root", photos, "scan.tmp", true},
		{"basename glob nested", photos, filepath.Join("2024", "06", "upload.tmp"), true},
		{"exact name nested", photos, filepath.Join("album", "Thumbs.db"), true},
		{"directory name", photos, ".git", true},
		{"other extension kept", photos, "IMG_0001.jpg", false},
		{"path glob matches from root", photos, filepath.Join("exports", "a.jpg"), true},
		{"path glob is anchored", photos, filepath.Join("album", "exports", "a.jpg"), false},
		{"path glob does not cross directories", photos, filepath.Join("exports", "web", "a.jpg"), false},
		{"single char wildcard", photos, filepath.Join("raw", "1.cr2"), true},
		{"single char wildcard rejects two", photos, filepath.Join("raw", "12.cr2"), false},
		{"character classes", photos, filepath.Join("raw", "IMG.XmP"), true},
		{"ignore file always skipped", nil, filepath.Join("album", IgnoreFileName), true},
		{"no patterns", nil, "IMG_0001.jpg", false},
		{"empty path", photos, "", false},
		{"malformed pattern skipped", []string{"[", "*.bak"}, "old.bak", true},
		{"malformed pattern alone", []string{"["}, "[", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewIgnoreMatcher(tt.patterns).Match(tt.rel); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.rel, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("returns raw lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		content := "# editors\n*.swp\n\nnode_modules\nbuild/*.o\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		lines, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		want := []string{"# editors", "*.swp", "", "node_modules", "build/*.o"}
		if !slices.Equal(lines, want) {
			t.Errorf("ParseIgnoreFile() = %q, want %q", lines, want)
		}

		m := NewIgnoreMatcher(lines)
		if !m.Match(filepath.Join("web", "node_modules")) || m.Match("main.go") {
			t.Errorf("matcher built from file has patterns %v", m.Patterns())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		lines, err := ParseIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if lines != nil {
			t.Errorf("ParseIgnoreFile() = %v, want nil", lines)
		}
	})

	t.Run("unreadable path", func(t *testing.T) {
		if _, err := ParseIgnoreFile(t.TempDir()); err == nil {
			t.Error("ParseIgnoreFile() on a directory expected error")
		}
	})
}
