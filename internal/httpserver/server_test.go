package httpserver

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/pushwatch/internal/config"
	"github.com/onexay/pushwatch/internal/notify"
	"github.com/onexay/pushwatch/internal/service"
	"github.com/onexay/pushwatch/internal/storage"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestServer(t *testing.T, bus *notify.RedisBus, logger *slog.Logger) *Server {
	t.Helper()
	cat, err := config.LoadTrees("")
	require.NoError(t, err)
	svc, err := service.NewWithStore(storage.NewMemoryStore(storage.Options{}), cat, bus, logger)
	require.NoError(t, err)
	return newServer("127.0.0.1:0", svc, logger)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/api/v1/trees")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"Logal"`)

	// escaped slashes in build ids reach the handler unredirected
	resp, err = http.Get(ts.URL + "/api/v1/tree/Logal/push/1/log/%2Ftmp%2Frun.log")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunFollowsLiveFeed(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	bus := notify.NewRedisBus(client, "", logger)
	srv := newTestServer(t, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	channel := bus.Channel("Logal")
	require.Eventually(t, func() bool {
		return mini.PubSubNumSub(channel)[channel] > 0
	}, 5*time.Second, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte("TEST-UNEXPECTED-FAIL | x\n"), 0o644))
	res, err := srv.svc.Chew(ctx, path)
	require.NoError(t, err)
	assert.True(t, res.Notified)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "msg=\"new push\" tree=Logal push=1 worst=testfailed")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
