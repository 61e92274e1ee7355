package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// attemptDir returns a fresh artifact directory for one attempt:
// <outputDir>/<project>/<suite>/<scenario>[-retryN]. The registry and the run
// configuration reject names whose slugs collide, so no two work items share
// a directory.
func (r *runner) attemptDir(work ScenarioWork, attempt int) (string, error) {
	name := types.Slug(work.Scenario.Name)
	if attempt > 0 {
		name = fmt.Sprintf("%s-retry%d", name, attempt)
	}
	dir := filepath.Join(r.config.OutputDir, types.Slug(work.Project.Name), types.Slug(work.Suite.Name), name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear artifact directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return dir, nil
}

// artifactWriter stores the files produced by one attempt.
type artifactWriter struct {
	dir     string
	log     log.Logger
	written map[string]bool
	paths   []string
}

func newArtifactWriter(dir string, logger log.Logger) *artifactWriter {
	return &artifactWriter{dir: dir, log: logger, written: make(map[string]bool)}
}

// write stores data at rel inside the attempt directory and returns the full
// path. Writing the same path twice in one attempt keeps the last write.
func (w *artifactWriter) write(rel string, data []byte) (string, error) {
	path := filepath.Join(w.dir, filepath.FromSlash(rel))
	if w.written[path] {
		w.log.Warn("Overwriting artifact written earlier in this attempt", "path", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", rel, err)
	}
	if !w.written[path] {
		w.written[path] = true
		w.paths = append(w.paths, path)
	}
	return path, nil
}

// withExtension replaces the extension of rel when it does not match ext.
func withExtension(rel, ext string) string {
	if ext == "" || strings.EqualFold(filepath.Ext(rel), ext) {
		return rel
	}
	return strings.TrimSuffix(rel, filepath.Ext(rel)) + ext
}
