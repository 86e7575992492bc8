package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onexay/pushwatch/internal/chew"
	"github.com/onexay/pushwatch/internal/config"
	"github.com/onexay/pushwatch/internal/notify"
	"github.com/onexay/pushwatch/internal/people"
	"github.com/onexay/pushwatch/internal/pushtree"
	"github.com/onexay/pushwatch/internal/storage"
	"github.com/onexay/pushwatch/internal/types"
)

// Service holds the tree catalogue, one reconstructor per tree and the
// storage and notification dependencies.
type Service struct {
	store     storage.Store
	bus       *notify.RedisBus
	closeBus  func() error
	catalogue config.Catalogue
	trees     map[string]*pushtree.Reconstructor
	chewer    *chew.Chewer
	logger    *slog.Logger
}

// ReconstructError reports a stored push whose flat record does not form a
// valid push tree.
type ReconstructError struct {
	TreeID string
	PushID int64
	Err    error
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("push %d of %s: %v", e.PushID, e.TreeID, e.Err)
}

func (e *ReconstructError) Unwrap() error { return e.Err }

// New constructs the service wiring from configuration.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalogue, err := config.LoadTrees(cfg.TreesConfig)
	if err != nil {
		return nil, err
	}

	var archive storage.Archive
	if cfg.Retention.ArchivePath != "" {
		arc, err := storage.NewBoltArchive(cfg.Retention.ArchivePath)
		if err != nil {
			return nil, err
		}
		archive = arc
	}

	options := storage.Options{
		Archive: archive,
		Retention: storage.RetentionDefaults{
			HotPushLimit: cfg.Retention.HotPushLimit,
			HotDuration:  cfg.Retention.HotDuration,
		},
	}

	var (
		store       storage.Store
		bus         *notify.RedisBus
		closeClient func() error
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendKeyDB:
		store, err = storage.NewKeyDBStore(cfg.Storage.KeyDB, options)
		if err != nil {
			if archive != nil {
				_ = archive.Close()
			}
			return nil, err
		}
		if !cfg.Notify.Disabled {
			client := storage.NewKeyDBClient(cfg.Storage.KeyDB)
			bus = notify.NewRedisBus(client, cfg.Notify.ChannelPrefix, logger)
			closeClient = client.Close
		}
	default:
		store = storage.NewMemoryStore(options)
	}

	svc, err := newService(store, catalogue, bus, logger)
	if err != nil {
		_ = store.Close()
		if closeClient != nil {
			_ = closeClient()
		}
		return nil, err
	}
	svc.closeBus = closeClient

	if err := store.Bootstrap(ctx); err != nil {
		_ = svc.Close()
		return nil, err
	}
	logger.Info("service ready", "backend", cfg.Storage.Backend, "trees", len(catalogue.Trees), "notify", bus != nil)
	return svc, nil
}

// NewWithStore wires a service over an existing store. bus may be nil.
func NewWithStore(store storage.Store, catalogue config.Catalogue, bus *notify.RedisBus, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return newService(store, catalogue, bus, logger)
}

func newService(store storage.Store, catalogue config.Catalogue, bus *notify.RedisBus, logger *slog.Logger) (*Service, error) {
	dir, err := people.NewDirectory(catalogue.People, 0)
	if err != nil {
		return nil, err
	}

	trees := make(map[string]*pushtree.Reconstructor, len(catalogue.Trees))
	for _, t := range catalogue.Trees {
		rc, err := pushtree.New(t, pushtree.Options{People: dir})
		if err != nil {
			return nil, fmt.Errorf("tree %s: %w", t.Name, err)
		}
		trees[t.ID] = rc
	}

	local, ok := catalogue.Tree(chew.LocalTreeID)
	if !ok {
		local = chew.LocalTree()
	}
	chewOpts := chew.Options{Tree: local, Logger: logger}
	if bus != nil {
		chewOpts.Publisher = bus
	}

	return &Service{
		store:     store,
		bus:       bus,
		catalogue: catalogue,
		trees:     trees,
		chewer:    chew.New(store, chewOpts),
		logger:    logger,
	}, nil
}

// Close releases the store, which owns the archive, and the notification
// client.
func (s *Service) Close() error {
	errs := []error{s.store.Close()}
	if s.closeBus != nil {
		errs = append(errs, s.closeBus())
	}
	return errors.Join(errs...)
}

// Bus returns the notification bus, or nil when notifications are off.
func (s *Service) Bus() *notify.RedisBus { return s.bus }

// Trees lists the served trees.
func (s *Service) Trees() []types.Tree { return s.catalogue.Trees }

// Reconstructor returns the decoder of a tree, looked up by name or id.
func (s *Service) Reconstructor(name string) (*pushtree.Reconstructor, error) {
	t, ok := s.catalogue.Tree(name)
	if !ok {
		return nil, &storage.NotFoundError{Resource: "tree", Key: name}
	}
	return s.trees[t.ID], nil
}

// Chew ingests a local log file into the local tree.
func (s *Service) Chew(ctx context.Context, path string) (chew.Result, error) {
	return s.chewer.Chew(ctx, path)
}

// RecentPushes reconstructs up to limit pushes with ids at or below
// highPushID (newest when zero), newest push date first.
func (s *Service) RecentPushes(ctx context.Context, treeName string, highPushID int64, limit int) ([]*types.BuildPush, error) {
	rc, err := s.Reconstructor(treeName)
	if err != nil {
		return nil, err
	}
	treeID := rc.Tree().ID
	records, err := s.store.ListRecentPushes(ctx, storage.ListPushesOptions{TreeID: treeID, HighPushID: highPushID, Limit: limit})
	if err != nil {
		return nil, err
	}

	pushes := make([]*types.BuildPush, 0, len(records))
	for _, rec := range records {
		bp, err := rc.Reconstruct(rec)
		if err != nil {
			s.logger.Warn("skipping push that failed to reconstruct", "tree", treeID, "error", err)
			continue
		}
		pushes = append(pushes, bp)
	}
	pushtree.SortBuildPushes(pushes)
	return pushes, nil
}

// Push reconstructs a single stored push.
func (s *Service) Push(ctx context.Context, treeName string, pushID int64) (*types.BuildPush, error) {
	rc, err := s.Reconstructor(treeName)
	if err != nil {
		return nil, err
	}
	treeID := rc.Tree().ID
	rec, err := s.store.GetPush(ctx, treeID, pushID)
	if err != nil {
		return nil, err
	}
	bp, err := rc.Reconstruct(rec)
	if err != nil {
		return nil, &ReconstructError{TreeID: treeID, PushID: pushID, Err: err}
	}
	return bp, nil
}

// PushLog returns the processed log of one build of a push.
func (s *Service) PushLog(ctx context.Context, treeName string, pushID int64, buildID string) (string, error) {
	rc, err := s.Reconstructor(treeName)
	if err != nil {
		return "", err
	}
	return s.store.GetPushLog(ctx, rc.Tree().ID, pushID, buildID)
}

// TreeMeta returns the last recorded scrape of a tree.
func (s *Service) TreeMeta(ctx context.Context, treeName string) (types.TreeMeta, error) {
	rc, err := s.Reconstructor(treeName)
	if err != nil {
		return types.TreeMeta{}, err
	}
	return s.store.GetTreeMeta(ctx, rc.Tree().Name)
}

// SetPolicy stores the retention policy of a tree.
func (s *Service) SetPolicy(ctx context.Context, policy storage.RetentionPolicy) (storage.RetentionPolicy, error) {
	rc, err := s.Reconstructor(policy.Tree)
	if err != nil {
		return storage.RetentionPolicy{}, err
	}
	return s.store.SetPolicy(ctx, policy.WithTree(rc.Tree().ID))
}

// Policy returns the retention policy of a tree.
func (s *Service) Policy(ctx context.Context, treeName string) (storage.RetentionPolicy, error) {
	rc, err := s.Reconstructor(treeName)
	if err != nil {
		return storage.RetentionPolicy{}, err
	}
	return s.store.GetPolicy(ctx, rc.Tree().ID)
}
