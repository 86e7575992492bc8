package pushtree

import "github.com/onexay/pushwatch/internal/types"

// attachSummaries runs once the tree is fully linked: leaf classification
// depends on the final sub-push lists.
func (r *Reconstructor) attachSummaries(root *types.BuildPush) {
	r.summarizeChanges(root, 0)
	root.VisitLeaves(func(bp *types.BuildPush) {
		bp.BuildSummary = r.builds.AggregateBuilds(r.tree, bp.Builds)
	})
}

// Changesets at depth N use the path mapping of the tree's Nth repo.
func (r *Reconstructor) summarizeChanges(bp *types.BuildPush, depth int) {
	var mapping map[string]string
	if repo, ok := r.tree.RepoAt(depth); ok {
		mapping = repo.PathMapping
	}
	for _, cs := range bp.Push.Changesets {
		summary := r.changes.SummarizeChangeset(cs.Files, mapping)
		cs.ChangeSummary = &summary
	}
	for _, sub := range bp.SubPushes {
		r.summarizeChanges(sub, depth+1)
	}
}
