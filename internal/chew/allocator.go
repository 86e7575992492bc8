package chew

import (
	"context"
	"fmt"

	"github.com/onexay/pushwatch/internal/flatrec"
	"github.com/onexay/pushwatch/internal/keyspace"
	"github.com/onexay/pushwatch/internal/storage"
)

// RecentPushReader returns the rows of a tree's highest-id push.
type RecentPushReader interface {
	GetMostRecentKnownPush(ctx context.Context, treeID string) ([]storage.Row, error)
}

// NextPushID allocates the push id following the most recent known push of
// a tree, or 1 for an empty tree. Concurrent calls for the same tree may
// return the same id; callers serialize.
func NextPushID(ctx context.Context, src RecentPushReader, treeID string) (int64, error) {
	rows, err := src.GetMostRecentKnownPush(ctx, treeID)
	if err != nil {
		return 0, fmt.Errorf("read most recent push of %s: %w", treeID, err)
	}
	if len(rows) == 0 {
		return 1, nil
	}

	rec := storage.NormalizeOneRow(rows)
	raw, ok := rec[keyspace.RootPushKey]
	if !ok {
		return 0, fmt.Errorf("most recent push of %s has no %s entry", treeID, keyspace.RootPushKey)
	}
	push, err := flatrec.ParsePush(raw)
	if err != nil {
		return 0, fmt.Errorf("decode most recent push of %s: %w", treeID, err)
	}
	return int64(push.ID) + 1, nil
}
