package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/pushwatch/internal/config"
	"github.com/onexay/pushwatch/internal/service"
	"github.com/onexay/pushwatch/internal/storage"
	"github.com/onexay/pushwatch/internal/types"
)

func runAdmin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeLog(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newAPI(t *testing.T) (*service.Service, string) {
	t.Helper()
	cat, err := config.LoadTrees("")
	require.NoError(t, err)
	svc, err := service.NewWithStore(storage.NewMemoryStore(storage.Options{}), cat, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ts := httptest.NewServer(service.Handler(svc))
	t.Cleanup(ts.Close)
	return svc, ts.URL
}

func TestPushesCommand(t *testing.T) {
	svc, api := newAPI(t)
	_, err := svc.Chew(context.Background(), writeLog(t, "a.log", "fine\n"))
	require.NoError(t, err)
	_, err = svc.Chew(context.Background(), writeLog(t, "b.log", "TEST-UNEXPECTED-FAIL | b\n"))
	require.NoError(t, err)

	out, err := runAdmin(t, "pushes", "--api", api, "--tree", "Logal")
	require.NoError(t, err)
	assert.Contains(t, out, "Push")
	assert.Contains(t, out, "testfailed")
	assert.Contains(t, out, "You!")

	out, err = runAdmin(t, "pushes", "--api", api, "--tree", "Logal", "--high", "1", "--json")
	require.NoError(t, err)
	var pushes []types.BuildPush
	require.NoError(t, json.Unmarshal([]byte(out), &pushes))
	require.Len(t, pushes, 1)
	assert.EqualValues(t, 1, pushes[0].Push.ID)
}

func TestPushesCommandErrors(t *testing.T) {
	_, api := newAPI(t)

	_, err := runAdmin(t, "pushes", "--api", api)
	assert.ErrorContains(t, err, "--tree is required")

	_, err = runAdmin(t, "pushes", "--api", api, "--tree", "Firefox")
	assert.ErrorContains(t, err, "404")
}

func TestPolicyCommand(t *testing.T) {
	_, api := newAPI(t)

	out, err := runAdmin(t, "policy", "--api", api, "--tree", "Logal")
	require.NoError(t, err)
	assert.Contains(t, out, "HotLimit")
	assert.Contains(t, out, "logal")
}

func TestChewCommand(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("TREES_CONFIG", "")
	t.Setenv("RETENTION_ARCHIVE_PATH", filepath.Join(t.TempDir(), "archive.db"))

	out, err := runAdmin(t, "chew", writeLog(t, "a.log", "fine\n"), writeLog(t, "b.log", "Tests failed\n"))
	require.NoError(t, err)
	assert.Regexp(t, `1\s+success`, out)
	assert.Regexp(t, `2\s+testfailed`, out)

	_, err = runAdmin(t, "chew", filepath.Join(t.TempDir(), "absent.log"))
	assert.Error(t, err)

	_, err = runAdmin(t, "chew")
	assert.Error(t, err)
}
