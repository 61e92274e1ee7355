package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExtension(t *testing.T) {
	assert.Equal(t, "shot.png", withExtension("shot.png", ".png"))
	assert.Equal(t, "shot.html", withExtension("shot.png", ".html"))
	assert.Equal(t, "cards/card-1.html", withExtension("cards/card-1", ".html"))
	assert.Equal(t, "shot.PNG", withExtension("shot.PNG", ".png"))
	assert.Equal(t, "shot.png", withExtension("shot.png", ""))
}

func TestArtifactWriter(t *testing.T) {
	dir := t.TempDir()
	w := newArtifactWriter(dir, testlog.Logger(t, log.LevelInfo))

	path, err := w.write("nested/one.png", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "one.png"), path)

	_, err = w.write("nested/one.png", []byte("second"))
	require.NoError(t, err)
	_, err = w.write("two.png", []byte("x"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, []string{path, filepath.Join(dir, "two.png")}, w.paths)
}

func TestAttemptDir(t *testing.T) {
	r := &runner{config: testRunConfig(t)}
	work := testWork(0, "Mobile Safari", "犬のページテスト", "has title")

	first, err := r.attemptDir(work, 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.config.OutputDir, "mobile-safari", "犬のページテスト", "has-title"), first)

	stale := filepath.Join(first, "stale.png")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	again, err := r.attemptDir(work, 0)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.NoFileExists(t, stale, "a fresh attempt starts from an empty directory")

	retry, err := r.attemptDir(work, 2)
	require.NoError(t, err)
	assert.Equal(t, first+"-retry2", retry)
	assert.DirExists(t, retry)
}
