package chew

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/pushwatch/internal/flatrec"
	"github.com/onexay/pushwatch/internal/notify"
	"github.com/onexay/pushwatch/internal/pushtree"
	"github.com/onexay/pushwatch/internal/storage"
	"github.com/onexay/pushwatch/internal/types"
)

type staticReader struct {
	rows []storage.Row
	err  error
}

func (s staticReader) GetMostRecentKnownPush(context.Context, string) ([]storage.Row, error) {
	return s.rows, s.err
}

func TestNextPushID(t *testing.T) {
	ctx := context.Background()

	id, err := NextPushID(ctx, staticReader{}, "logal")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	id, err = NextPushID(ctx, staticReader{rows: []storage.Row{
		{Key: "a", PushID: 41, Columns: types.FlatRecord{"s:r": `{"id":41,"date":1,"user":"u","changesets":[]}`}},
	}}, "logal")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	id, err = NextPushID(ctx, staticReader{rows: []storage.Row{
		{Key: "a", Columns: types.FlatRecord{"s:r": `{"id":"7","date":1,"user":"u","changesets":[]}`}},
	}}, "logal")
	require.NoError(t, err)
	assert.EqualValues(t, 8, id)
}

func TestNextPushIDFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := NextPushID(ctx, staticReader{err: boom}, "logal")
	assert.ErrorIs(t, err, boom)

	_, err = NextPushID(ctx, staticReader{rows: []storage.Row{{Key: "a", Columns: types.FlatRecord{"s:b:x": "{}"}}}}, "logal")
	assert.ErrorContains(t, err, "no s:r entry")

	_, err = NextPushID(ctx, staticReader{rows: []storage.Row{{Key: "a", Columns: types.FlatRecord{"s:r": "nope"}}}}, "logal")
	assert.Error(t, err)
}

func TestLineParser(t *testing.T) {
	log := strings.Join([]string{
		"starting",
		"TEST-UNEXPECTED-FAIL | test_foo.js | boom  ",
		"ok",
		"TEST-UNEXPECTED-TIMEOUT | test_bar.js",
	}, "\n")

	parsed, err := DefaultLineParser().Parse(context.Background(), strings.NewReader(log))
	require.NoError(t, err)
	assert.Equal(t, []string{"TEST-UNEXPECTED-FAIL | test_foo.js | boom", "TEST-UNEXPECTED-TIMEOUT | test_bar.js"}, parsed.Overview.Failures)
	assert.False(t, parsed.Overview.FailureIndicated)
	assert.True(t, parsed.Overview.Failed())
	assert.Contains(t, parsed.Processed, `"lineCount":4`)

	parsed, err = DefaultLineParser().Parse(context.Background(), strings.NewReader("all good\nTests failed: 0 of 1?"))
	require.NoError(t, err)
	assert.Empty(t, parsed.Overview.Failures)
	assert.True(t, parsed.Overview.FailureIndicated)

	parsed, err = DefaultLineParser().Parse(context.Background(), strings.NewReader("all good\n"))
	require.NoError(t, err)
	assert.False(t, parsed.Overview.Failed())
	assert.Contains(t, parsed.Processed, `"failures":[]`)
}

func TestLineParserKeepsTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line\n")
	}
	b.WriteString("last")
	parsed, err := LineParser{}.Parse(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Contains(t, parsed.Processed, `"lineCount":51`)
	assert.Equal(t, tailLines, strings.Count(parsed.Processed, `"line"`)+strings.Count(parsed.Processed, `"last"`))
}

type recordingPublisher struct {
	msgs []notify.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg notify.Message) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func writeLog(t *testing.T, body string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func newTestChewer(store storage.Store, pub notify.Publisher) *Chewer {
	return New(store, Options{
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:     func() time.Time { return time.UnixMilli(5000) },
	})
}

func TestChewWritesSyntheticPushes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(storage.Options{})
	pub := &recordingPublisher{}
	c := newTestChewer(store, pub)

	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	path := writeLog(t, "TEST-UNEXPECTED-FAIL | a | b\n", mtime)

	first, err := c.Chew(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.PushID)
	assert.Equal(t, flatrec.StateTestFailed, first.State)
	assert.True(t, first.Write.Created)
	assert.True(t, first.Notified)

	second, err := c.Chew(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.PushID)

	meta, err := store.GetTreeMeta(ctx, LocalTreeName)
	require.NoError(t, err)
	assert.True(t, meta.Local)
	assert.EqualValues(t, 2, meta.HighPushID)
	assert.EqualValues(t, 5000, meta.Timestamp)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, LocalTreeName, pub.msgs[1].TreeName)
	assert.EqualValues(t, 2, pub.msgs[1].PushID)
	assert.Len(t, pub.msgs[1].KeysAndValues, 3)

	rec, err := store.GetPush(ctx, LocalTreeID, 2)
	require.NoError(t, err)
	rc, err := pushtree.New(LocalTree(), pushtree.Options{})
	require.NoError(t, err)
	push, err := rc.Reconstruct(rec)
	require.NoError(t, err)
	assert.EqualValues(t, 2, push.Push.ID)
	assert.True(t, push.Push.PushDate.Equal(mtime))
	require.Len(t, push.Builds, 1)
	assert.Equal(t, flatrec.StateTestFailed, push.Builds[0].Record["state"])
	require.NotNil(t, push.Builds[0].ProcessedLog)
	assert.Contains(t, *push.Builds[0].ProcessedLog, "TEST-UNEXPECTED-FAIL")
}

func TestChewSwallowsNotificationFailure(t *testing.T) {
	store := storage.NewMemoryStore(storage.Options{})
	pub := &recordingPublisher{err: errors.New("bus down")}
	c := newTestChewer(store, pub)

	res, err := c.Chew(context.Background(), writeLog(t, "fine\n", time.Now()))
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Equal(t, flatrec.StateSuccess, res.State)
	assert.Len(t, pub.msgs, 1)
}

func TestChewWithoutPublisher(t *testing.T) {
	store := storage.NewMemoryStore(storage.Options{})
	res, err := newTestChewer(store, nil).Chew(context.Background(), writeLog(t, "fine\n", time.Now()))
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.EqualValues(t, 1, res.PushID)
}

func TestChewMissingFile(t *testing.T) {
	store := storage.NewMemoryStore(storage.Options{})
	_, err := newTestChewer(store, nil).Chew(context.Background(), filepath.Join(t.TempDir(), "absent.log"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	rows, err := store.GetMostRecentKnownPush(context.Background(), LocalTreeID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
