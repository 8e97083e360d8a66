package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "plots")
	outside := filepath.Join(tmpDir, "elsewhere")
	for _, dir := range []string{safeDir, outside} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	link := filepath.Join(safeDir, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		dir       string
		wantError bool
	}{
		{"new file in dir", filepath.Join(safeDir, "VS-1-7.png"), safeDir, false},
		{"new file in missing subdir", filepath.Join(safeDir, "2026", "10", "VS-1.png"), safeDir, false},
		{"dot dot escape", filepath.Join(safeDir, "..", "VS-1.png"), safeDir, true},
		{"relative escape", "../../../etc/passwd", safeDir, true},
		{"absolute outside", "/etc/passwd", safeDir, true},
		{"through symlink", filepath.Join(link, "VS-1.png"), safeDir, true},
		{"symlink itself", link, safeDir, true},
		{"dir itself", safeDir, safeDir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.path, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "chart.html"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}); err == nil {
		t.Error("path outside all dirs accepted")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "x"), nil); err == nil {
		t.Error("empty allow list accepted")
	}
}

func TestValidateExportPath(t *testing.T) {
	if err := ValidateExportPath(filepath.Join(os.TempDir(), "reading.png")); err != nil {
		t.Errorf("temp dir path rejected: %v", err)
	}
	if err := ValidateExportPath("reading.png"); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if err := ValidateExportPath("/etc/reading.png"); err == nil {
		t.Error("path under /etc accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VS-0042", "VS-0042"},
		{"site a/sensor 3", "site_a_sensor_3"},
		{"../../etc", "etc"},
		{"a::::b", "a_b"},
		{"", "unknown"},
		{"///", "unknown"},
		{"émetteur", "metteur"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if got := SanitizeFilename(string(long)); len(got) != maxFilenameLen {
		t.Errorf("long name length = %d, want %d", len(got), maxFilenameLen)
	}
}
