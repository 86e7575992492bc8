package storage

import (
	"encoding/json"
	"time"

	"github.com/onexay/pushwatch/internal/flatrec"
	"github.com/onexay/pushwatch/internal/keyspace"
	"github.com/onexay/pushwatch/internal/types"
)

func validatePut(treeID string, pushID int64, rec types.FlatRecord) error {
	if treeID == "" {
		return &ValidationError{Message: "tree is required"}
	}
	if pushID <= 0 {
		return &ValidationError{Message: "push id must be positive"}
	}
	if len(rec) == 0 {
		return &ValidationError{Message: "record is empty"}
	}
	for k := range rec {
		if _, err := keyspace.Decode(k); err != nil {
			return &ValidationError{Message: err.Error()}
		}
	}
	return nil
}

// splitLogs separates log entries, which retention may move to the
// archive, from the push and build entries that always stay hot.
func splitLogs(rec types.FlatRecord) (hot, logs types.FlatRecord) {
	hot, logs = types.FlatRecord{}, types.FlatRecord{}
	for k, v := range rec {
		if key, err := keyspace.Decode(k); err == nil && key.Kind == keyspace.KindLog {
			logs[k] = v
			continue
		}
		hot[k] = v
	}
	return hot, logs
}

func encodeArchivedLogs(logs types.FlatRecord) ([]byte, error) {
	return json.Marshal(logs)
}

func decodeArchivedLogs(data []byte) (types.FlatRecord, error) {
	var logs types.FlatRecord
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// mergeArchivedLogs restores archived logs; entries written after archival win.
func mergeArchivedLogs(rec, logs types.FlatRecord) {
	for k, v := range logs {
		if _, ok := rec[k]; !ok {
			rec[k] = v
		}
	}
}

// logKeysForBuild lists the log keys a build id may be stored under.
// Ingested logs keep their raw path as build id but are keyed by the
// sanitised segment, so a path containing ':' also yields that key.
func logKeysForBuild(buildID string) ([]string, error) {
	if buildID == "" {
		return nil, &ValidationError{Message: "build id is required"}
	}
	var keys []string
	raw := keyspace.LogKey(buildID)
	if _, err := keyspace.Decode(raw); err == nil {
		keys = append(keys, raw)
	}
	if seg := keyspace.SanitizeSegment(buildID); seg != buildID {
		keys = append(keys, keyspace.LogKey(seg))
	}
	if len(keys) == 0 {
		_, err := keyspace.Decode(raw)
		return nil, &ValidationError{Message: err.Error()}
	}
	return keys, nil
}

func findLog(rec types.FlatRecord, keys []string) (string, error) {
	for _, k := range keys {
		if payload, ok := rec[k]; ok {
			return payload, nil
		}
	}
	return "", &NotFoundError{Resource: "log", Key: keys[0]}
}

// pushDate reads the root push date of a record; ok is false when the
// record has no decodable root push.
func pushDate(rec types.FlatRecord) (time.Time, bool) {
	raw, ok := rec[keyspace.RootPushKey]
	if !ok {
		return time.Time{}, false
	}
	p, err := flatrec.ParsePush(raw)
	if err != nil {
		return time.Time{}, false
	}
	return p.Date.Time(), true
}

type retentionEntry struct {
	pushID   int64
	pushed   time.Time
	dated    bool
	archived bool
}

// selectForArchive picks the pushes whose logs should leave the hot set.
// entries must be in ascending push id order.
func selectForArchive(entries []retentionEntry, policy RetentionPolicy, now time.Time) []int64 {
	if !policy.active() {
		return nil
	}
	toArchive := make(map[int64]struct{})
	if policy.HotDuration > 0 {
		cutoff := now.Add(-policy.HotDuration)
		for _, e := range entries {
			if !e.archived && e.dated && e.pushed.Before(cutoff) {
				toArchive[e.pushID] = struct{}{}
			}
		}
	}
	if policy.HotPushLimit > 0 {
		remaining := make([]retentionEntry, 0, len(entries))
		for _, e := range entries {
			if e.archived {
				continue
			}
			if _, ok := toArchive[e.pushID]; ok {
				continue
			}
			remaining = append(remaining, e)
		}
		if excess := len(remaining) - policy.HotPushLimit; excess > 0 {
			for i := 0; i < excess; i++ {
				toArchive[remaining[i].pushID] = struct{}{}
			}
		}
	}

	ids := make([]int64, 0, len(toArchive))
	for _, e := range entries {
		if _, ok := toArchive[e.pushID]; ok {
			ids = append(ids, e.pushID)
		}
	}
	return ids
}
