// Package pushtree rebuilds linked push trees from flat records.
package pushtree

import (
	"cmp"
	"slices"

	"github.com/onexay/pushwatch/internal/aggregate"
	"github.com/onexay/pushwatch/internal/flatrec"
	"github.com/onexay/pushwatch/internal/keyspace"
	"github.com/onexay/pushwatch/internal/people"
	"github.com/onexay/pushwatch/internal/types"
)

// PersonResolver turns raw pusher and committer strings into persons.
type PersonResolver interface {
	PersonForPusher(raw string) types.Person
	PersonForCommitter(raw string) types.Person
}

// ChangeSummarizer derives the change summary of one changeset.
type ChangeSummarizer interface {
	SummarizeChangeset(files []string, pathMapping map[string]string) types.ChangeSummary
}

// BuildAggregator derives the build summary of one leaf build-push.
type BuildAggregator interface {
	AggregateBuilds(tree types.Tree, builds []*types.Build) *types.BuildSummary
}

// Options supplies collaborators; nil fields fall back to the defaults of
// the people and aggregate packages.
type Options struct {
	People  PersonResolver
	Changes ChangeSummarizer
	Builds  BuildAggregator
}

// Reconstructor decodes flat records of one tree. It keeps no state
// between calls and may be shared.
type Reconstructor struct {
	tree    types.Tree
	people  PersonResolver
	changes ChangeSummarizer
	builds  BuildAggregator
}

// New builds a Reconstructor for a tree.
func New(tree types.Tree, opts Options) (*Reconstructor, error) {
	r := &Reconstructor{tree: tree, people: opts.People, changes: opts.Changes, builds: opts.Builds}
	if r.people == nil {
		dir, err := people.NewDirectory(nil, 0)
		if err != nil {
			return nil, err
		}
		r.people = dir
	}
	if r.changes == nil {
		r.changes = aggregate.Changes{}
	}
	if r.builds == nil {
		r.builds = aggregate.Builds{}
	}
	return r, nil
}

// Tree returns the tree the reconstructor decodes for.
func (r *Reconstructor) Tree() types.Tree {
	return r.tree
}

type entry struct {
	raw string
	key keyspace.Key
}

// Reconstruct links every push, build and log of rec into a tree and
// returns its root. Any malformed key, missing ancestor or undecodable
// payload fails the whole call.
func (r *Reconstructor) Reconstruct(rec types.FlatRecord) (*types.BuildPush, error) {
	var pushes, builds, logs []entry
	for raw := range rec {
		k, err := keyspace.Decode(raw)
		if err != nil {
			return nil, err
		}
		switch k.Kind {
		case keyspace.KindRevision:
			pushes = append(pushes, entry{raw: raw, key: k})
		case keyspace.KindBuild:
			builds = append(builds, entry{raw: raw, key: k})
		case keyspace.KindLog:
			logs = append(logs, entry{raw: raw, key: k})
		}
	}
	if _, ok := rec[keyspace.RootPushKey]; !ok {
		return nil, &MissingRootError{}
	}

	// Ancestors have fewer segments, so they are linked before descendants.
	slices.SortFunc(pushes, func(a, b entry) int {
		return cmp.Or(cmp.Compare(a.key.Segments(), b.key.Segments()), cmp.Compare(a.raw, b.raw))
	})
	resolved := make(map[string]*types.BuildPush, len(pushes))
	for _, e := range pushes {
		bp, err := r.newBuildPush(e, rec[e.raw])
		if err != nil {
			return nil, err
		}
		if !e.key.TopLevel() {
			parentKey, _, _ := keyspace.ParentPushKeyOf(e.raw)
			parent, ok := resolved[parentKey]
			if !ok {
				return nil, &OrphanPushError{Key: e.raw, ParentKey: parentKey}
			}
			parent.SubPushes = append(parent.SubPushes, bp)
		}
		resolved[e.raw] = bp
	}
	for _, bp := range resolved {
		SortBuildPushes(bp.SubPushes)
	}

	slices.SortFunc(builds, func(a, b entry) int { return cmp.Compare(a.raw, b.raw) })
	for _, e := range builds {
		ownerKey, _ := keyspace.OwningPushKeyOf(e.raw)
		owner, ok := resolved[ownerKey]
		if !ok {
			return nil, &OrphanBuildError{Key: e.raw, OwnerKey: ownerKey}
		}
		record, err := flatrec.ParseBuild(rec[e.raw])
		if err != nil {
			return nil, &PayloadError{Key: e.raw, Err: err}
		}
		build := &types.Build{Record: record}
		logKey, _ := keyspace.LogKeyOf(e.raw)
		if payload, ok := rec[logKey]; ok {
			build.ProcessedLog = &payload
		}
		owner.Builds = append(owner.Builds, build)
	}

	for _, e := range logs {
		buildKey, _ := keyspace.BuildKeyOf(e.raw)
		ownerKey, _ := keyspace.OwningPushKeyOf(buildKey)
		if _, ok := resolved[ownerKey]; !ok {
			return nil, &OrphanBuildError{Key: e.raw, OwnerKey: ownerKey}
		}
	}

	root := resolved[keyspace.RootPushKey]
	r.attachSummaries(root)
	return root, nil
}

func (r *Reconstructor) newBuildPush(e entry, raw string) (*types.BuildPush, error) {
	rec, err := flatrec.ParsePush(raw)
	if err != nil {
		return nil, &PayloadError{Key: e.raw, Err: err}
	}

	push := &types.Push{
		ID:         int64(rec.ID),
		PushDate:   rec.Date.Time(),
		Pusher:     r.people.PersonForPusher(rec.User),
		Changesets: make([]*types.Changeset, 0, len(rec.Changesets)),
	}
	for _, cs := range rec.Changesets {
		push.Changesets = append(push.Changesets, &types.Changeset{
			ShortRev: cs.ShortRev,
			FullRev:  cs.Node,
			Author:   r.people.PersonForCommitter(cs.Author),
			Branch:   cs.Branch,
			Tags:     cs.Tags,
			RawDesc:  cs.Desc,
			Files:    cs.Files,
		})
	}

	return &types.BuildPush{
		Key:          e.raw,
		Push:         push,
		SubPushes:    []*types.BuildPush{},
		Builds:       []*types.Build{},
		TopLevelPush: e.key.TopLevel(),
	}, nil
}

// SortBuildPushes orders build-pushes newest first; equal push dates fall
// back to ascending push id.
func SortBuildPushes(list []*types.BuildPush) {
	slices.SortStableFunc(list, func(a, b *types.BuildPush) int {
		return cmp.Or(b.Push.PushDate.Compare(a.Push.PushDate), cmp.Compare(a.Push.ID, b.Push.ID))
	})
}
