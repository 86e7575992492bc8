package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/onexay/pushwatch/internal/types"
)

const (
	treePushesKeyPrefix = "tree:pushes"
)

type keydbStore struct {
	client        *redis.Client
	clock         func() time.Time
	archive       Archive
	defaultPolicy RetentionPolicy
}

type retentionRecord struct {
	HotPushLimit       int   `json:"hotPushLimit,omitempty"`
	HotDurationSeconds int64 `json:"hotDurationSeconds,omitempty"`
	Locked             bool  `json:"locked"`
}

func (r retentionRecord) toPolicy(tree string) RetentionPolicy {
	return RetentionPolicy{
		Tree:         tree,
		HotPushLimit: r.HotPushLimit,
		HotDuration:  time.Duration(r.HotDurationSeconds) * time.Second,
		Locked:       r.Locked,
	}
}

// Config defines KeyDB connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	Database int
}

// NewKeyDBStore initializes a Store backed by KeyDB.
func NewKeyDBStore(cfg Config, opts Options) (Store, error) {
	client := NewKeyDBClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to keydb: %w", err)
	}

	return &keydbStore{
		client:        client,
		clock:         time.Now,
		archive:       opts.Archive,
		defaultPolicy: RetentionPolicy{HotPushLimit: opts.Retention.HotPushLimit, HotDuration: opts.Retention.HotDuration},
	}, nil
}

// NewKeyDBClient builds a client for the configured KeyDB instance without
// contacting it.
func NewKeyDBClient(cfg Config) *redis.Client {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})
}

func (s *keydbStore) Bootstrap(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bootstrap keydb: %w", err)
	}
	return nil
}

func (s *keydbStore) GetMostRecentKnownPush(ctx context.Context, treeID string) ([]Row, error) {
	ids, err := s.client.ZRevRange(ctx, treePushesKey(treeID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Row{}, nil
	}
	pushID, err := strconv.ParseInt(ids[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("tree %s: bad push id %q: %w", treeID, ids[0], err)
	}
	columns, err := s.client.HGetAll(ctx, pushKey(treeID, pushID)).Result()
	if err != nil {
		return nil, err
	}
	return []Row{{Key: pushRowKey(treeID, pushID), PushID: pushID, Columns: columns}}, nil
}

func (s *keydbStore) PutPushStuff(ctx context.Context, treeID string, pushID int64, rec types.FlatRecord) (PushWriteResult, error) {
	if err := validatePut(treeID, pushID, rec); err != nil {
		return PushWriteResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := pushKey(treeID, pushID)
	idsKey := treePushesKey(treeID)
	var result PushWriteResult

	for {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			previous, err := s.withArchivedLogs(ctx, tx, treeID, pushID, types.FlatRecord(existing).Clone())
			if err != nil {
				return err
			}

			keys := changedKeys(previous, rec)
			merged := previous.Clone()
			fields := make(map[string]any, len(rec))
			for k, v := range rec {
				merged[k] = v
				fields[k] = v
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				pipe.ZAdd(ctx, idsKey, redis.Z{Score: float64(pushID), Member: strconv.FormatInt(pushID, 10)})
				return nil
			})
			if err != nil {
				return err
			}

			result = PushWriteResult{
				TreeID:  treeID,
				PushID:  pushID,
				Created: len(previous) == 0,
				Changed: keys,
				Diff:    computeRecordDiff(previous, rec, keys),
				Digest:  computeRecordDigest(merged),
				Written: s.clock().UTC(),
			}
			return nil
		}, key, idsKey)

		if err == nil {
			s.enforceRetention(ctx, treeID, s.getPolicy(ctx, treeID))
			return result, nil
		}

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return PushWriteResult{}, err
	}
}

func (s *keydbStore) MetaLogTreeScrape(ctx context.Context, treeName string, isLocal bool, meta ScrapeMeta) error {
	if treeName == "" {
		return &ValidationError{Message: "tree name is required"}
	}
	payload, err := json.Marshal(types.TreeMeta{
		Tree:       treeName,
		Local:      isLocal,
		Timestamp:  meta.Timestamp,
		Rev:        meta.Rev,
		HighPushID: meta.HighPushID,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, treeMetaKey(treeName), payload, 0).Err()
}

func (s *keydbStore) GetTreeMeta(ctx context.Context, treeName string) (types.TreeMeta, error) {
	bytes, err := s.client.Get(ctx, treeMetaKey(treeName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.TreeMeta{}, &NotFoundError{Resource: "tree meta", Key: treeName}
		}
		return types.TreeMeta{}, err
	}
	var meta types.TreeMeta
	if err := json.Unmarshal(bytes, &meta); err != nil {
		return types.TreeMeta{}, err
	}
	return meta, nil
}

func (s *keydbStore) GetPush(ctx context.Context, treeID string, pushID int64) (types.FlatRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	columns, err := s.client.HGetAll(ctx, pushKey(treeID, pushID)).Result()
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, &NotFoundError{Resource: "push", Key: pushRowKey(treeID, pushID)}
	}
	return s.withArchivedLogs(ctx, s.client, treeID, pushID, types.FlatRecord(columns))
}

// withArchivedLogs restores any archived logs of the push into rec.
func (s *keydbStore) withArchivedLogs(ctx context.Context, c redis.Cmdable, treeID string, pushID int64, rec types.FlatRecord) (types.FlatRecord, error) {
	if s.archive == nil || len(rec) == 0 {
		return rec, nil
	}
	archived, err := c.SIsMember(ctx, archivedSetKey(treeID), strconv.FormatInt(pushID, 10)).Result()
	if err != nil {
		return nil, err
	}
	if !archived {
		return rec, nil
	}
	data, err := s.archive.Fetch(ctx, treeID, pushID)
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

func (s *keydbStore) ListRecentPushes(ctx context.Context, opts ListPushesOptions) ([]types.FlatRecord, error) {
	if opts.TreeID == "" {
		return nil, &ValidationError{Message: "tree is required"}
	}

	upper := "+inf"
	if opts.HighPushID > 0 {
		upper = strconv.FormatInt(opts.HighPushID, 10)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, treePushesKey(opts.TreeID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: int64(opts.limit()),
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]types.FlatRecord, 0, len(ids))
	for _, raw := range ids {
		pushID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		rec, err := s.GetPush(ctx, opts.TreeID, pushID)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *keydbStore) GetPushLog(ctx context.Context, treeID string, pushID int64, buildID string) (string, error) {
	keys, err := logKeysForBuild(buildID)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		payload, err := s.client.HGet(ctx, pushKey(treeID, pushID), k).Result()
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", err
		}
	}

	rec, err := s.GetPush(ctx, treeID, pushID)
	if err != nil {
		return "", err
	}
	return findLog(rec, keys)
}

func (s *keydbStore) SetPolicy(ctx context.Context, policy RetentionPolicy) (RetentionPolicy, error) {
	if err := validatePolicy(policy); err != nil {
		return RetentionPolicy{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := policyKey(policy.Tree)
	seconds := int64(policy.HotDuration / time.Second)

	existing, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		var rec retentionRecord
		if err := json.Unmarshal(existing, &rec); err == nil {
			if rec.Locked && (rec.HotPushLimit != policy.HotPushLimit || rec.HotDurationSeconds != seconds) {
				return rec.toPolicy(policy.Tree), &ConflictError{Resource: "policy", Key: policy.Tree}
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		return RetentionPolicy{}, err
	}

	rec := retentionRecord{
		HotPushLimit:       policy.HotPushLimit,
		HotDurationSeconds: seconds,
		Locked:             true,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return RetentionPolicy{}, err
	}

	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return RetentionPolicy{}, err
	}

	policy.Locked = true
	s.enforceRetention(ctx, policy.Tree, policy)
	return policy, nil
}

func (s *keydbStore) GetPolicy(ctx context.Context, treeID string) (RetentionPolicy, error) {
	if treeID == "" {
		return RetentionPolicy{}, &ValidationError{Message: "tree is required"}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	bytes, err := s.client.Get(ctx, policyKey(treeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return s.defaultPolicy.WithTree(treeID), nil
		}
		return RetentionPolicy{}, err
	}
	var rec retentionRecord
	if err := json.Unmarshal(bytes, &rec); err != nil {
		return RetentionPolicy{}, err
	}
	return rec.toPolicy(treeID), nil
}

func (s *keydbStore) Close() error {
	err := s.client.Close()
	if s.archive != nil {
		if aerr := s.archive.Close(); err == nil {
			err = aerr
		}
	}
	return err
}

func (s *keydbStore) getPolicy(ctx context.Context, treeID string) RetentionPolicy {
	policy, err := s.GetPolicy(ctx, treeID)
	if err != nil {
		return s.defaultPolicy.WithTree(treeID)
	}
	return policy
}

func (s *keydbStore) enforceRetention(ctx context.Context, treeID string, policy RetentionPolicy) {
	if s.archive == nil || !policy.active() {
		return
	}
	ids, err := s.client.ZRange(ctx, treePushesKey(treeID), 0, -1).Result()
	if err != nil {
		return
	}
	archived, err := s.client.SMembers(ctx, archivedSetKey(treeID)).Result()
	if err != nil {
		return
	}
	isArchived := make(map[string]bool, len(archived))
	for _, id := range archived {
		isArchived[id] = true
	}

	entries := make([]retentionEntry, 0, len(ids))
	for _, raw := range ids {
		pushID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		e := retentionEntry{pushID: pushID, archived: isArchived[raw]}
		if policy.HotDuration > 0 && !e.archived {
			if root, err := s.client.HGetAll(ctx, pushKey(treeID, pushID)).Result(); err == nil {
				e.pushed, e.dated = pushDate(types.FlatRecord(root))
			}
		}
		entries = append(entries, e)
	}
	for _, pushID := range selectForArchive(entries, policy, s.clock()) {
		_ = s.archivePush(ctx, treeID, pushID)
	}
}

func (s *keydbStore) archivePush(ctx context.Context, treeID string, pushID int64) error {
	columns, err := s.client.HGetAll(ctx, pushKey(treeID, pushID)).Result()
	if err != nil {
		return err
	}
	_, logs := splitLogs(types.FlatRecord(columns))
	data, err := encodeArchivedLogs(logs)
	if err != nil {
		return err
	}
	if err := s.archive.Store(ctx, treeID, pushID, data); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if len(logs) > 0 {
		fields := make([]string, 0, len(logs))
		for k := range logs {
			fields = append(fields, k)
		}
		pipe.HDel(ctx, pushKey(treeID, pushID), fields...)
	}
	pipe.SAdd(ctx, archivedSetKey(treeID), strconv.FormatInt(pushID, 10))
	_, err = pipe.Exec(ctx)
	return err
}

func pushKey(treeID string, pushID int64) string {
	return fmt.Sprintf("push:%s:%d", treeID, pushID)
}

func treePushesKey(treeID string) string {
	return fmt.Sprintf("%s:%s", treePushesKeyPrefix, treeID)
}

func archivedSetKey(treeID string) string {
	return fmt.Sprintf("tree:archived:%s", treeID)
}

func treeMetaKey(treeName string) string {
	return fmt.Sprintf("treemeta:%s", treeName)
}

func policyKey(treeID string) string {
	return fmt.Sprintf("policy:%s", treeID)
}
