package storage

import (
	"time"

	"github.com/onexay/pushwatch/internal/types"
)

// Row is one stored push as returned by a backend: the push's row key and
// its flat-record columns.
type Row struct {
	Key     string
	PushID  int64
	Columns map[string]string
}

// NormalizeOneRow turns the rows of a single push into a flat record. Rows
// are expected to be pre-reduced to one push; later rows with the same row
// key override earlier columns.
func NormalizeOneRow(rows []Row) types.FlatRecord {
	rec := types.FlatRecord{}
	if len(rows) == 0 {
		return rec
	}
	for _, row := range rows {
		if row.Key != rows[0].Key {
			continue
		}
		for k, v := range row.Columns {
			rec[k] = v
		}
	}
	return rec
}

// PushWriteResult summarises a PutPushStuff call.
type PushWriteResult struct {
	TreeID  string
	PushID  int64
	Created bool
	Changed []string
	Diff    string
	Digest  string
	Written time.Time
}

// ScrapeMeta describes the scrape that produced a tree's latest pushes.
type ScrapeMeta struct {
	Timestamp  int64
	Rev        int64
	HighPushID int64
}

const defaultListLimit = 10

// ListPushesOptions controls recent-push retrieval. HighPushID zero means
// start from the newest push.
type ListPushesOptions struct {
	TreeID     string
	HighPushID int64
	Limit      int
}

func (o ListPushesOptions) limit() int {
	if o.Limit <= 0 {
		return defaultListLimit
	}
	return o.Limit
}
