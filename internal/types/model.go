package types

import "time"

// FlatRecord is the wire and storage form of a push tree. Keys follow the
// "s:<kind>:<path>" grammar; push and build values hold JSON text while log
// values hold the raw processed log.
type FlatRecord map[string]string

// Clone returns a shallow copy of the record.
func (r FlatRecord) Clone() FlatRecord {
	out := make(FlatRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Person is a resolved pusher or committer identity.
type Person struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// Push captures one source-control update event.
type Push struct {
	ID         int64        `json:"id"`
	PushDate   time.Time    `json:"pushDate"`
	Pusher     Person       `json:"pusher"`
	Changesets []*Changeset `json:"changesets"`
}

// Changeset is one committed revision within a push.
type Changeset struct {
	ShortRev      string         `json:"shortRev"`
	FullRev       string         `json:"fullRev"`
	Author        Person         `json:"author"`
	Branch        string         `json:"branch"`
	Tags          []string       `json:"tags"`
	RawDesc       string         `json:"rawDesc"`
	Files         []string       `json:"files"`
	ChangeSummary *ChangeSummary `json:"changeSummary,omitempty"`
}

// ChangeSummary groups a changeset's files by the area they touch.
type ChangeSummary struct {
	FileCount int           `json:"fileCount"`
	Areas     []AreaSummary `json:"areas"`
}

// AreaSummary lists the files of a changeset that fall under one area.
type AreaSummary struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// Build is an opaque build record plus its processed log, if one was stored.
type Build struct {
	Record       map[string]any `json:"record"`
	ProcessedLog *string        `json:"processedLog"`
}

// BuildSummary aggregates the builds of a leaf build-push.
type BuildSummary struct {
	Total    int            `json:"total"`
	States   map[string]int `json:"states"`
	Worst    string         `json:"worst"`
	Failing  []string       `json:"failing,omitempty"`
	Builders []string       `json:"builders,omitempty"`
}

// BuildPush is a push plus the builds it triggered and any nested sub-pushes.
type BuildPush struct {
	Key          string        `json:"key"`
	Push         *Push         `json:"push"`
	SubPushes    []*BuildPush  `json:"subPushes"`
	Builds       []*Build      `json:"builds"`
	BuildSummary *BuildSummary `json:"buildSummary,omitempty"`
	TopLevelPush bool          `json:"topLevelPush"`
}

// VisitLeaves calls fn for every build-push without sub-pushes, children
// before parents.
func (bp *BuildPush) VisitLeaves(fn func(*BuildPush)) {
	for _, sub := range bp.SubPushes {
		sub.VisitLeaves(fn)
	}
	if len(bp.SubPushes) == 0 {
		fn(bp)
	}
}

// Repo describes one repository of a tree. Nested pushes at depth N belong
// to the tree's Nth repo.
type Repo struct {
	Name        string            `json:"name" yaml:"name"`
	PathMapping map[string]string `json:"pathMapping,omitempty" yaml:"pathMapping"`
}

// Tree describes a monitored build tree.
type Tree struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Local bool   `json:"local" yaml:"local"`
	Repos []Repo `json:"repos" yaml:"repos"`
}

// RepoAt returns the repo for a nesting depth, if the tree defines one.
func (t Tree) RepoAt(depth int) (Repo, bool) {
	if depth < 0 || depth >= len(t.Repos) {
		return Repo{}, false
	}
	return t.Repos[depth], true
}

// Overview is the parsed shape of a processed log consumed by ingestion.
type Overview struct {
	Failures         []string `json:"failures"`
	FailureIndicated bool     `json:"failureIndicated"`
}

// Failed reports whether the overview describes a failing run.
func (o Overview) Failed() bool {
	return len(o.Failures) > 0 || o.FailureIndicated
}

// TreeMeta records the last scrape of a tree.
type TreeMeta struct {
	Tree       string `json:"tree"`
	Local      bool   `json:"local"`
	Timestamp  int64  `json:"timestamp"`
	Rev        int64  `json:"rev"`
	HighPushID int64  `json:"highPushId"`
}
