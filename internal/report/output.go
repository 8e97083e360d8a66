package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/security"
)

// FileName is the default output name for a reading, e.g. "VS-42-7.png".
func FileName(res *acquisition.Result, ext string) string {
	return fmt.Sprintf("%s-%d%s", security.SanitizeFilename(res.Target.Serial), res.ReadingID, ext)
}

// OutputPath resolves where a plot or chart for res should be written. A
// path naming a directory (existing, or ending in a separator) gets
// FileName appended. The result must lie under the working directory or the
// system temp directory.
func OutputPath(path string, res *acquisition.Result, ext string) (string, error) {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		path = filepath.Join(path, FileName(res, ext))
	} else if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName(res, ext))
	}
	if err := security.ValidateExportPath(path); err != nil {
		return "", fmt.Errorf("refusing to write %s: %w", path, err)
	}
	return path, nil
}
