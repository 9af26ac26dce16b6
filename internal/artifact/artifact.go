package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Artifact is one unit of repair work: a single Python source file.
type Artifact struct {
	Path string `json:"path"`
}

// Name returns the base filename of the artifact.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// Discover lists the Python files in dir, skipping test files so the
// loop never tries to repair its own harnesses. Results are sorted for
// deterministic processing order.
func Discover(dir string) ([]Artifact, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("target dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read target dir: %w", err)
	}

	var artifacts []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !IsSource(e.Name()) {
			continue
		}
		artifacts = append(artifacts, Artifact{Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return artifacts, nil
}

// IsSource reports whether name is a repairable Python file.
// Test files and conftest are harness material, not repair targets.
func IsSource(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	if strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py") {
		return false
	}
	return name != "conftest.py"
}
