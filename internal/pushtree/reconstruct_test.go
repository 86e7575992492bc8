package pushtree

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/pushwatch/internal/flatrec"
	"github.com/onexay/pushwatch/internal/keyspace"
	"github.com/onexay/pushwatch/internal/types"
)

func pushJSON(id, date int64, files ...string) string {
	if files == nil {
		files = []string{}
	}
	quoted := "["
	for i, f := range files {
		if i > 0 {
			quoted += ","
		}
		quoted += fmt.Sprintf("%q", f)
	}
	quoted += "]"
	return fmt.Sprintf(`{"id":%d,"date":%d,"user":"Pusher <p@example.com>","changesets":[{"shortRev":"abc","node":"abcdef","author":"a@example.com","branch":"default","tags":[],"desc":"d","files":%s}]}`, id, date, quoted)
}

func newReconstructor(t *testing.T, tree types.Tree, opts Options) *Reconstructor {
	t.Helper()
	r, err := New(tree, opts)
	require.NoError(t, err)
	return r
}

func TestReconstructRootOnly(t *testing.T) {
	r := newReconstructor(t, types.Tree{}, Options{})
	root, err := r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 100)})
	require.NoError(t, err)

	assert.True(t, root.TopLevelPush)
	assert.Empty(t, root.Builds)
	assert.Empty(t, root.SubPushes)
	assert.EqualValues(t, 1, root.Push.ID)
	assert.Equal(t, time.Unix(100, 0).UTC(), root.Push.PushDate)
	assert.Equal(t, "Pusher", root.Push.Pusher.Name)
	require.Len(t, root.Push.Changesets, 1)
	assert.Equal(t, "abcdef", root.Push.Changesets[0].FullRev)
	require.NotNil(t, root.BuildSummary)
	assert.Zero(t, root.BuildSummary.Total)
}

func TestReconstructNestedPushes(t *testing.T) {
	r := newReconstructor(t, types.Tree{}, Options{})
	root, err := r.Reconstruct(types.FlatRecord{
		"s:r:a:b": pushJSON(3, 300),
		"s:r":     pushJSON(1, 100),
		"s:r:a":   pushJSON(2, 200),
	})
	require.NoError(t, err)

	require.Len(t, root.SubPushes, 1)
	a := root.SubPushes[0]
	assert.Equal(t, "s:r:a", a.Key)
	assert.False(t, a.TopLevelPush)
	require.Len(t, a.SubPushes, 1)
	b := a.SubPushes[0]
	assert.Equal(t, "s:r:a:b", b.Key)
	assert.False(t, b.TopLevelPush)

	// only the leaf is summarized
	assert.Nil(t, root.BuildSummary)
	assert.Nil(t, a.BuildSummary)
	assert.NotNil(t, b.BuildSummary)
}

func TestReconstructIsRepeatable(t *testing.T) {
	rec := types.FlatRecord{
		"s:r":           pushJSON(1, 100),
		"s:r:a":         pushJSON(2, 200),
		"s:b:a:linux":   `{"state":"success","builder":{"name":"linux"}}`,
		"s:l:a:linux":   "log text",
		"s:b:a:windows": `{"state":"busted","builder":{"name":"windows"}}`,
	}
	r := newReconstructor(t, types.Tree{}, Options{})
	first, err := r.Reconstruct(rec)
	require.NoError(t, err)
	second, err := r.Reconstruct(rec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
}

func TestReconstructSortsSubPushes(t *testing.T) {
	r := newReconstructor(t, types.Tree{}, Options{})
	root, err := r.Reconstruct(types.FlatRecord{
		"s:r":   pushJSON(1, 50),
		"s:r:a": pushJSON(10, 100),
		"s:r:b": pushJSON(11, 300),
		"s:r:c": pushJSON(12, 200),
		"s:r:d": pushJSON(9, 100),
	})
	require.NoError(t, err)

	var got []string
	for _, sub := range root.SubPushes {
		got = append(got, fmt.Sprintf("%d/%d", sub.Push.PushDate.Unix(), sub.Push.ID))
	}
	assert.Equal(t, []string{"300/11", "200/12", "100/9", "100/10"}, got)
}

func TestReconstructBuildsAndLogs(t *testing.T) {
	r := newReconstructor(t, types.Tree{}, Options{})
	root, err := r.Reconstruct(types.FlatRecord{
		"s:r":      pushJSON(1, 100),
		"s:b:zeta": `{"state":"success","builder":{"name":"zeta"}}`,
		"s:b:beta": `{"state":"testfailed","builder":{"name":"beta"}}`,
		"s:l:beta": `{"failures":["x"]}`,
	})
	require.NoError(t, err)

	require.Len(t, root.Builds, 2)
	assert.Equal(t, "testfailed", root.Builds[0].Record["state"])
	require.NotNil(t, root.Builds[0].ProcessedLog)
	assert.Equal(t, `{"failures":["x"]}`, *root.Builds[0].ProcessedLog)
	assert.Nil(t, root.Builds[1].ProcessedLog)

	require.NotNil(t, root.BuildSummary)
	assert.Equal(t, 2, root.BuildSummary.Total)
	assert.Equal(t, "testfailed", root.BuildSummary.Worst)
}

func TestReconstructRoundTripsSyntheticPush(t *testing.T) {
	ts := time.Unix(1300000000, 0)
	for _, tc := range []struct {
		overview types.Overview
		state    string
	}{
		{types.Overview{Failures: []string{}}, flatrec.StateSuccess},
		{types.Overview{Failures: []string{"x"}}, flatrec.StateTestFailed},
		{types.Overview{Failures: []string{}, FailureIndicated: true}, flatrec.StateTestFailed},
	} {
		rec, err := flatrec.Encode(flatrec.SyntheticPush{
			PushID:          42,
			Timestamp:       ts,
			Overview:        tc.overview,
			ArtifactPath:    "/tmp/run.log",
			ArtifactModTime: ts,
			ProcessedLog:    "raw log \"payload\"",
		})
		require.NoError(t, err)

		r := newReconstructor(t, types.Tree{}, Options{})
		root, err := r.Reconstruct(rec)
		require.NoError(t, err)

		assert.EqualValues(t, 42, root.Push.ID)
		assert.Equal(t, ts.UTC(), root.Push.PushDate)
		require.Len(t, root.Builds, 1)
		assert.Equal(t, tc.state, root.Builds[0].Record["state"])
		require.NotNil(t, root.Builds[0].ProcessedLog)
		assert.Equal(t, "raw log \"payload\"", *root.Builds[0].ProcessedLog)
	}
}

func TestReconstructFailures(t *testing.T) {
	r := newReconstructor(t, types.Tree{}, Options{})

	_, err := r.Reconstruct(types.FlatRecord{"s:b:X": `{}`})
	var missing *MissingRootError
	assert.True(t, errors.As(err, &missing), "got %v", err)

	_, err = r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 1), "s:b:a:X": `{}`})
	var orphan *OrphanBuildError
	require.True(t, errors.As(err, &orphan), "got %v", err)
	assert.Equal(t, "s:r:a", orphan.OwnerKey)

	_, err = r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 1), "s:l:a:X": "log"})
	assert.True(t, errors.As(err, &orphan), "got %v", err)

	_, err = r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 1), "s:r:a:b": pushJSON(2, 2)})
	var orphanPush *OrphanPushError
	require.True(t, errors.As(err, &orphanPush), "got %v", err)
	assert.Equal(t, "s:r:a", orphanPush.ParentKey)

	_, err = r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 1), "s:x:a": "?"})
	var format *keyspace.FormatError
	assert.True(t, errors.As(err, &format), "got %v", err)

	_, err = r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 1), "s:b:a": "not json"})
	var payload *PayloadError
	require.True(t, errors.As(err, &payload), "got %v", err)
	assert.Equal(t, "s:b:a", payload.Key)

	_, err = r.Reconstruct(types.FlatRecord{"s:r": "{"})
	assert.True(t, errors.As(err, &payload), "got %v", err)

	for _, raw := range []string{`null`, `{}`, `[]`, `{"id":3}`, `{"date":3}`, `{"id":null,"date":3}`, `{"id":1.5,"date":3}`} {
		_, err = r.Reconstruct(types.FlatRecord{"s:r": raw})
		require.True(t, errors.As(err, &payload), "%s: got %v", raw, err)
		assert.Equal(t, "s:r", payload.Key)
	}

	_, err = r.Reconstruct(types.FlatRecord{"s:r": pushJSON(1, 1), "s:r:a": `null`})
	require.True(t, errors.As(err, &payload), "got %v", err)
	assert.Equal(t, "s:r:a", payload.Key)
}

func TestReconstructAcceptsLooseNumbers(t *testing.T) {
	r := newReconstructor(t, types.Tree{}, Options{})

	root, err := r.Reconstruct(types.FlatRecord{"s:r": `{"id":7.0,"date":5.5,"user":"u","changesets":[]}`})
	require.NoError(t, err)
	assert.EqualValues(t, 7, root.Push.ID)
	assert.Equal(t, time.UnixMilli(5500).UTC(), root.Push.PushDate)
}

type recordingAggregator struct {
	calls []int
}

func (a *recordingAggregator) AggregateBuilds(_ types.Tree, builds []*types.Build) *types.BuildSummary {
	a.calls = append(a.calls, len(builds))
	return &types.BuildSummary{Total: len(builds)}
}

type recordingSummarizer struct {
	mappings []map[string]string
}

func (s *recordingSummarizer) SummarizeChangeset(files []string, mapping map[string]string) types.ChangeSummary {
	s.mappings = append(s.mappings, mapping)
	return types.ChangeSummary{FileCount: len(files)}
}

func TestReconstructInvokesCollaborators(t *testing.T) {
	tree := types.Tree{Repos: []types.Repo{
		{Name: "outer", PathMapping: map[string]string{"a/": "A"}},
		{Name: "inner", PathMapping: map[string]string{"b/": "B"}},
	}}
	builds := &recordingAggregator{}
	changes := &recordingSummarizer{}
	r := newReconstructor(t, tree, Options{Builds: builds, Changes: changes})

	root, err := r.Reconstruct(types.FlatRecord{
		"s:r":       pushJSON(1, 100, "a/x"),
		"s:r:c":     pushJSON(2, 200, "b/y", "b/z"),
		"s:r:c:d":   pushJSON(3, 300),
		"s:b:root":  `{}`,
		"s:b:c:one": `{}`,
		"s:b:c:two": `{}`,
	})
	require.NoError(t, err)

	// only the leaf s:r:c:d is aggregated
	assert.Equal(t, []int{0}, builds.calls)
	assert.Nil(t, root.BuildSummary)
	assert.Len(t, root.Builds, 1)
	assert.Len(t, root.SubPushes[0].Builds, 2)

	require.Len(t, changes.mappings, 3)
	assert.Equal(t, tree.Repos[0].PathMapping, changes.mappings[0])
	assert.Equal(t, tree.Repos[1].PathMapping, changes.mappings[1])
	assert.Nil(t, changes.mappings[2])
	assert.Equal(t, 2, root.SubPushes[0].Push.Changesets[0].ChangeSummary.FileCount)
}
