package storage

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/onexay/pushwatch/internal/types"
)

// Store defines the persistence operations for flat push records.
type Store interface {
	Bootstrap(ctx context.Context) error
	GetMostRecentKnownPush(ctx context.Context, treeID string) ([]Row, error)
	PutPushStuff(ctx context.Context, treeID string, pushID int64, rec types.FlatRecord) (PushWriteResult, error)
	MetaLogTreeScrape(ctx context.Context, treeName string, isLocal bool, meta ScrapeMeta) error
	GetTreeMeta(ctx context.Context, treeName string) (types.TreeMeta, error)
	GetPush(ctx context.Context, treeID string, pushID int64) (types.FlatRecord, error)
	ListRecentPushes(ctx context.Context, opts ListPushesOptions) ([]types.FlatRecord, error)
	GetPushLog(ctx context.Context, treeID string, pushID int64, buildID string) (string, error)
	SetPolicy(ctx context.Context, policy RetentionPolicy) (RetentionPolicy, error)
	GetPolicy(ctx context.Context, treeID string) (RetentionPolicy, error)
	Close() error
}

// NotFoundError signals missing records.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " " + e.Key + " not found"
}

// ConflictError signals concurrent modification or duplicate creation attempts.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return e.Resource + " " + e.Key + " conflicts with existing state"
}

// ValidationError represents invalid input supplied by clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func pushRowKey(treeID string, pushID int64) string {
	return treeID + ":" + strconv.FormatInt(pushID, 10)
}

// memoryStore provides an in-memory fallback for development and testing.
type memoryStore struct {
	mu            sync.RWMutex
	clock         func() time.Time
	pushes        map[string]map[int64]types.FlatRecord // tree -> push id -> hot entries
	archived      map[string]map[int64]bool
	meta          map[string]types.TreeMeta
	policies      map[string]RetentionPolicy
	defaultPolicy RetentionPolicy
	archive       Archive
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore(opts Options) Store {
	return &memoryStore{
		clock:         time.Now,
		pushes:        make(map[string]map[int64]types.FlatRecord),
		archived:      make(map[string]map[int64]bool),
		meta:          make(map[string]types.TreeMeta),
		policies:      make(map[string]RetentionPolicy),
		defaultPolicy: RetentionPolicy{HotPushLimit: opts.Retention.HotPushLimit, HotDuration: opts.Retention.HotDuration},
		archive:       opts.Archive,
	}
}

func (m *memoryStore) Bootstrap(ctx context.Context) error {
	return nil
}

func (m *memoryStore) GetMostRecentKnownPush(ctx context.Context, treeID string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.sortedIDsLocked(treeID)
	if len(ids) == 0 {
		return []Row{}, nil
	}
	id := ids[len(ids)-1]
	return []Row{{
		Key:     pushRowKey(treeID, id),
		PushID:  id,
		Columns: m.pushes[treeID][id].Clone(),
	}}, nil
}

func (m *memoryStore) PutPushStuff(ctx context.Context, treeID string, pushID int64, rec types.FlatRecord) (PushWriteResult, error) {
	if err := validatePut(treeID, pushID, rec); err != nil {
		return PushWriteResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	treePushes, ok := m.pushes[treeID]
	if !ok {
		treePushes = make(map[int64]types.FlatRecord)
		m.pushes[treeID] = treePushes
	}
	existing, found := treePushes[pushID]
	if !found {
		existing = types.FlatRecord{}
	}

	previous, err := m.withArchivedLogsLocked(ctx, treeID, pushID, existing)
	if err != nil {
		return PushWriteResult{}, err
	}

	keys := changedKeys(previous, rec)
	diff := computeRecordDiff(previous, rec, keys)

	merged := existing.Clone()
	full := previous.Clone()
	for k, v := range rec {
		merged[k] = v
		full[k] = v
	}
	treePushes[pushID] = merged

	m.applyRetentionLocked(ctx, treeID)

	return PushWriteResult{
		TreeID:  treeID,
		PushID:  pushID,
		Created: !found,
		Changed: keys,
		Diff:    diff,
		Digest:  computeRecordDigest(full),
		Written: m.clock().UTC(),
	}, nil
}

func (m *memoryStore) MetaLogTreeScrape(ctx context.Context, treeName string, isLocal bool, meta ScrapeMeta) error {
	if treeName == "" {
		return &ValidationError{Message: "tree name is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[treeName] = types.TreeMeta{
		Tree:       treeName,
		Local:      isLocal,
		Timestamp:  meta.Timestamp,
		Rev:        meta.Rev,
		HighPushID: meta.HighPushID,
	}
	return nil
}

func (m *memoryStore) GetTreeMeta(ctx context.Context, treeName string) (types.TreeMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[treeName]
	if !ok {
		return types.TreeMeta{}, &NotFoundError{Resource: "tree meta", Key: treeName}
	}
	return meta, nil
}

func (m *memoryStore) GetPush(ctx context.Context, treeID string, pushID int64) (types.FlatRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPushLocked(ctx, treeID, pushID)
}

func (m *memoryStore) getPushLocked(ctx context.Context, treeID string, pushID int64) (types.FlatRecord, error) {
	hot, ok := m.pushes[treeID][pushID]
	if !ok {
		return nil, &NotFoundError{Resource: "push", Key: pushRowKey(treeID, pushID)}
	}
	return m.withArchivedLogsLocked(ctx, treeID, pushID, hot)
}

// withArchivedLogsLocked returns a copy of hot with any archived logs of the
// push restored.
func (m *memoryStore) withArchivedLogsLocked(ctx context.Context, treeID string, pushID int64, hot types.FlatRecord) (types.FlatRecord, error) {
	rec := hot.Clone()
	if !m.archived[treeID][pushID] || m.archive == nil {
		return rec, nil
	}
	data, err := m.archive.Fetch(ctx, treeID, pushID)
	if err != nil {
		return nil, err
	}
	logs, err := decodeArchivedLogs(data)
	if err != nil {
		return nil, err
	}
	mergeArchivedLogs(rec, logs)
	return rec, nil
}

func (m *memoryStore) ListRecentPushes(ctx context.Context, opts ListPushesOptions) ([]types.FlatRecord, error) {
	if opts.TreeID == "" {
		return nil, &ValidationError{Message: "tree is required"}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.sortedIDsLocked(opts.TreeID)
	result := make([]types.FlatRecord, 0, opts.limit())
	for i := len(ids) - 1; i >= 0 && len(result) < opts.limit(); i-- {
		if opts.HighPushID > 0 && ids[i] > opts.HighPushID {
			continue
		}
		rec, err := m.getPushLocked(ctx, opts.TreeID, ids[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (m *memoryStore) GetPushLog(ctx context.Context, treeID string, pushID int64, buildID string) (string, error) {
	keys, err := logKeysForBuild(buildID)
	if err != nil {
		return "", err
	}
	rec, err := m.GetPush(ctx, treeID, pushID)
	if err != nil {
		return "", err
	}
	return findLog(rec, keys)
}

func (m *memoryStore) SetPolicy(ctx context.Context, policy RetentionPolicy) (RetentionPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return RetentionPolicy{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.policies[policy.Tree]
	if ok && existing.Locked && (existing.HotPushLimit != policy.HotPushLimit || existing.HotDuration != policy.HotDuration) {
		return existing, &ConflictError{Resource: "policy", Key: policy.Tree}
	}

	policy.Locked = true
	m.policies[policy.Tree] = policy
	m.applyRetentionLocked(ctx, policy.Tree)
	return policy, nil
}

func (m *memoryStore) GetPolicy(ctx context.Context, treeID string) (RetentionPolicy, error) {
	if treeID == "" {
		return RetentionPolicy{}, &ValidationError{Message: "tree is required"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPolicyLocked(treeID), nil
}

func (m *memoryStore) Close() error {
	if m.archive != nil {
		return m.archive.Close()
	}
	return nil
}

func (m *memoryStore) getPolicyLocked(treeID string) RetentionPolicy {
	if policy, ok := m.policies[treeID]; ok {
		return policy
	}
	return m.defaultPolicy.WithTree(treeID)
}

func (m *memoryStore) sortedIDsLocked(treeID string) []int64 {
	ids := make([]int64, 0, len(m.pushes[treeID]))
	for id := range m.pushes[treeID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *memoryStore) applyRetentionLocked(ctx context.Context, treeID string) {
	if m.archive == nil {
		return
	}
	policy := m.getPolicyLocked(treeID)
	ids := m.sortedIDsLocked(treeID)
	entries := make([]retentionEntry, 0, len(ids))
	for _, id := range ids {
		date, dated := pushDate(m.pushes[treeID][id])
		entries = append(entries, retentionEntry{
			pushID:   id,
			pushed:   date,
			dated:    dated,
			archived: m.archived[treeID][id],
		})
	}
	for _, id := range selectForArchive(entries, policy, m.clock()) {
		m.flushPushLocked(ctx, treeID, id)
	}
}

func (m *memoryStore) flushPushLocked(ctx context.Context, treeID string, pushID int64) {
	hot, logs := splitLogs(m.pushes[treeID][pushID])
	data, err := encodeArchivedLogs(logs)
	if err != nil {
		return
	}
	if err := m.archive.Store(ctx, treeID, pushID, data); err != nil {
		return
	}
	m.pushes[treeID][pushID] = hot
	if _, ok := m.archived[treeID]; !ok {
		m.archived[treeID] = make(map[int64]bool)
	}
	m.archived[treeID][pushID] = true
}
