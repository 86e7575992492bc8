package flatrec

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/onexay/pushwatch/internal/keyspace"
	"github.com/onexay/pushwatch/internal/types"
)

const (
	StateSuccess    = "success"
	StateTestFailed = "testfailed"

	LocalPusher   = "You! <user@localhost.localdomain>"
	LocalAuthor   = "user@localhost.localdomain"
	LocalBranch   = "default"
	LocalRev      = "xxxxxxxxxxxx"
	LocalBuilder  = "local loggest"
	LocalParser   = "loggest"
	localDescHead = "Your test run of "
)

// SyntheticPush describes one local artifact-processing run.
type SyntheticPush struct {
	PushID          int64
	Timestamp       time.Time
	Overview        types.Overview
	ArtifactPath    string
	ArtifactModTime time.Time
	ProcessedLog    string
}

// Keys returns the push, build and log keys the run is stored under.
func (p SyntheticPush) Keys() (push, build, log string) {
	seg := keyspace.SanitizeSegment(p.ArtifactPath)
	return keyspace.RootPushKey, keyspace.BuildKey(seg), keyspace.LogKey(seg)
}

// BuildState maps a log overview to a build state.
func BuildState(o types.Overview) string {
	if o.Failed() {
		return StateTestFailed
	}
	return StateSuccess
}

// Encode fabricates the three flat entries of a synthetic push.
func Encode(p SyntheticPush) (types.FlatRecord, error) {
	if p.ArtifactPath == "" {
		return nil, errors.New("artifact path is required")
	}
	stamp := p.Timestamp.Unix()
	pushKey, buildKey, logKey := p.Keys()

	push, err := json.Marshal(PushRecord{
		ID:   PushID(p.PushID),
		Date: UnixSeconds(stamp),
		User: LocalPusher,
		Changesets: []ChangesetRecord{{
			ShortRev: LocalRev,
			Node:     LocalRev,
			Author:   LocalAuthor,
			Branch:   LocalBranch,
			Tags:     []string{},
			Desc:     localDescHead + p.ArtifactModTime.UTC().Format(time.RFC3339),
			Files:    []string{},
		}},
	})
	if err != nil {
		return nil, err
	}

	build, err := json.Marshal(BuildRecord{
		Builder: Builder{
			Name: LocalBuilder,
			OS: BuilderOS{
				Idiom:    "desktop",
				Platform: "localhost",
				Arch:     "localarch",
			},
			Type: BuilderType{Type: "test", Subtype: LocalParser},
		},
		ID:          p.ArtifactPath,
		State:       BuildState(p.Overview),
		StartTime:   stamp,
		EndTime:     stamp,
		LogURL:      p.ArtifactPath,
		Revs:        map[string]string{},
		RichNotes:   []string{},
		ErrorParser: LocalParser,
	})
	if err != nil {
		return nil, err
	}

	return types.FlatRecord{
		pushKey:  string(push),
		buildKey: string(build),
		logKey:   p.ProcessedLog,
	}, nil
}
