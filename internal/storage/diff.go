package storage

import (
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/onexay/pushwatch/internal/types"
)

// changedKeys lists, in key order, the entries of next that are new or
// differ from previous.
func changedKeys(previous, next types.FlatRecord) []string {
	var keys []string
	for k, v := range next {
		if old, ok := previous[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func computeRecordDiff(previous, next types.FlatRecord, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if d := computeDiff(k, previous[k], next[k]); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}

func computeDiff(key, previous, current string) string {
	if previous == current {
		return ""
	}

	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: "a/" + key,
		ToFile:   "b/" + key,
		Context:  3,
	}

	res, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return strings.TrimSpace(current)
	}

	return strings.TrimSpace(res)
}
