package apphost

import (
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-apphost/pkg/errors"
)

// PackageDirectory is where a solution's build drops product packages
func PackageDirectory(solutionDir, configuration string) string {
	return filepath.Join(solutionDir, "..", "..", "artifacts", configuration, "packages", "product")
}

// FindSolutionDir walks up from start to the first directory containing marker
func FindSolutionDir(start, marker string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", errors.NewIOError("failed to resolve directory", err).WithContext("start", start)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewIOError("marker file not found in any parent directory", os.ErrNotExist).
				WithContext("start", start).
				WithContext("marker", marker)
		}
		dir = parent
	}
}
