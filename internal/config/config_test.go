package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "STORAGE_BACKEND", "TREES_CONFIG", "RETENTION_HOT_PUSH_LIMIT", "LOG_FORMAT", "NOTIFY_DISABLED"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, StorageBackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "pushwatch", cfg.Notify.ChannelPrefix)
	assert.False(t, cfg.Notify.Disabled)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Zero(t, cfg.Retention.HotPushLimit)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "KeyDB")
	t.Setenv("KEYDB_ADDR", "localhost:6380")
	t.Setenv("KEYDB_DB", "3")
	t.Setenv("RETENTION_HOT_PUSH_LIMIT", "25")
	t.Setenv("RETENTION_HOT_DURATION", "48h")
	t.Setenv("NOTIFY_DISABLED", "true")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := Load()
	assert.Equal(t, StorageBackendKeyDB, cfg.Storage.Backend)
	assert.Equal(t, "localhost:6380", cfg.Storage.KeyDB.Addr)
	assert.Equal(t, 3, cfg.Storage.KeyDB.Database)
	assert.Equal(t, 25, cfg.Retention.HotPushLimit)
	assert.Equal(t, 48*time.Hour, cfg.Retention.HotDuration)
	assert.True(t, cfg.Notify.Disabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("KEYDB_DB", "three")
	t.Setenv("RETENTION_HOT_DURATION", "soon")
	cfg := Load()
	assert.Zero(t, cfg.Storage.KeyDB.Database)
	assert.Zero(t, cfg.Retention.HotDuration)
}

const catalogueYAML = `
trees:
  - id: cc
    name: Thunderbird
    repos:
      - name: comm-central
        pathMapping:
          mail/: Mail
      - name: mozilla-central
        pathMapping:
          js/: JS
people:
  - name: Jane Doe
    email: jane@example.com
`

func TestLoadTrees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trees.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogueYAML), 0o644))

	cat, err := LoadTrees(path)
	require.NoError(t, err)
	require.Len(t, cat.Trees, 2)

	tb, ok := cat.Tree("Thunderbird")
	require.True(t, ok)
	assert.Equal(t, "cc", tb.ID)
	require.Len(t, tb.Repos, 2)
	assert.Equal(t, "JS", tb.Repos[1].PathMapping["js/"])

	local, ok := cat.Tree("logal")
	require.True(t, ok)
	assert.True(t, local.Local)
	assert.Equal(t, "Logal", local.Name)

	require.Len(t, cat.People, 1)
	assert.Equal(t, "jane@example.com", cat.People[0].Email)

	_, ok = cat.Tree("Firefox")
	assert.False(t, ok)
}

func TestLoadTreesDefault(t *testing.T) {
	cat, err := LoadTrees("")
	require.NoError(t, err)
	require.Len(t, cat.Trees, 1)
	assert.Equal(t, "Logal", cat.Trees[0].Name)
}

func TestLoadTreesRejectsBadCatalogue(t *testing.T) {
	dir := t.TempDir()

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("trees:\n  - {id: a, name: A}\n  - {id: a, name: B}\n"), 0o644))
	_, err := LoadTrees(dup)
	assert.ErrorContains(t, err, "declared twice")

	anon := filepath.Join(dir, "anon.yaml")
	require.NoError(t, os.WriteFile(anon, []byte("trees:\n  - {name: A}\n"), 0o644))
	_, err = LoadTrees(anon)
	assert.ErrorContains(t, err, "id and name are required")

	garbled := filepath.Join(dir, "garbled.yaml")
	require.NoError(t, os.WriteFile(garbled, []byte("trees: [\n"), 0o644))
	_, err = LoadTrees(garbled)
	assert.Error(t, err)

	_, err = LoadTrees(filepath.Join(dir, "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(LogConfig{Level: "debug", Format: "json"}, &buf).Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(LogConfig{Level: "bogus"}, &buf).Info("text")
	assert.Contains(t, buf.String(), "msg=text")
}
