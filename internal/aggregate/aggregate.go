// Package aggregate holds the default change summarizer and build aggregator
// used when attaching summaries to a reconstructed push tree.
package aggregate

import (
	"slices"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/onexay/pushwatch/internal/types"
)

const rootArea = "(root)"

var (
	statePath   = jp.MustParseString("$.state")
	builderPath = jp.MustParseString("$.builder.name")
)

// severity orders build states from best to worst. Unlisted states rank
// with the in-progress ones.
var severity = map[string]int{
	"success":    0,
	"pending":    1,
	"running":    1,
	"testfailed": 2,
	"busted":     3,
	"exception":  4,
}

const unknownSeverity = 1

// Changes groups changeset files by the longest matching path-mapping prefix.
type Changes struct{}

// SummarizeChangeset groups files into areas. Files under no mapped prefix
// fall into the area named by their first path component.
func (Changes) SummarizeChangeset(files []string, pathMapping map[string]string) types.ChangeSummary {
	byArea := make(map[string][]string)
	for _, file := range files {
		area := areaOf(file, pathMapping)
		byArea[area] = append(byArea[area], file)
	}

	names := make([]string, 0, len(byArea))
	for name := range byArea {
		names = append(names, name)
	}
	slices.Sort(names)

	summary := types.ChangeSummary{FileCount: len(files), Areas: make([]types.AreaSummary, 0, len(names))}
	for _, name := range names {
		summary.Areas = append(summary.Areas, types.AreaSummary{Name: name, Files: byArea[name]})
	}
	return summary
}

func areaOf(file string, pathMapping map[string]string) string {
	best := ""
	area := ""
	for prefix, name := range pathMapping {
		if strings.HasPrefix(file, prefix) && len(prefix) > len(best) {
			best, area = prefix, name
		}
	}
	if best != "" {
		return area
	}
	if i := strings.IndexByte(file, '/'); i > 0 {
		return file[:i]
	}
	return rootArea
}

// Builds counts build states and reports the worst one.
type Builds struct{}

// AggregateBuilds summarizes the builds of one leaf build-push.
func (Builds) AggregateBuilds(_ types.Tree, builds []*types.Build) *types.BuildSummary {
	summary := &types.BuildSummary{States: make(map[string]int), Worst: "success"}
	worst := -1
	failing := make(map[string]struct{})
	builders := make(map[string]struct{})

	for _, b := range builds {
		if b == nil {
			continue
		}
		summary.Total++
		state, _ := statePath.First(b.Record).(string)
		if state == "" {
			state = "unknown"
		}
		summary.States[state]++

		rank, ok := severity[state]
		if !ok {
			rank = unknownSeverity
		}
		if rank > worst {
			worst = rank
			summary.Worst = state
		}

		name, _ := builderPath.First(b.Record).(string)
		if name == "" {
			continue
		}
		builders[name] = struct{}{}
		if rank >= severity["testfailed"] {
			failing[name] = struct{}{}
		}
	}

	summary.Builders = sortedKeys(builders)
	summary.Failing = sortedKeys(failing)
	return summary
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
