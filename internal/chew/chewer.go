// Package chew ingests a locally produced test log as a synthetic push of
// the local tree, reusing the storage and reconstruction pipeline of real
// pushes.
package chew

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/onexay/pushwatch/internal/flatrec"
	"github.com/onexay/pushwatch/internal/notify"
	"github.com/onexay/pushwatch/internal/storage"
	"github.com/onexay/pushwatch/internal/types"
)

const (
	LocalTreeID   = "logal"
	LocalTreeName = "Logal"
)

// LocalTree is the tree synthetic pushes are written to by default.
func LocalTree() types.Tree {
	return types.Tree{ID: LocalTreeID, Name: LocalTreeName, Local: true}
}

// Options configures a Chewer. Zero values pick the local tree, the default
// line parser, no notifications and slog.Default().
type Options struct {
	Tree      types.Tree
	Parser    LogParser
	Publisher notify.Publisher
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Result describes one ingested log.
type Result struct {
	PushID   int64
	State    string
	Write    storage.PushWriteResult
	Notified bool
}

// Chewer turns log files into synthetic pushes. Ingestion is not
// idempotent: chewing the same file twice yields two pushes.
type Chewer struct {
	store     storage.Store
	tree      types.Tree
	parser    LogParser
	publisher notify.Publisher
	logger    *slog.Logger
	clock     func() time.Time

	// serializes allocate-then-write so two chews in this process never
	// pick the same push id
	mu sync.Mutex
}

// New builds a Chewer over store.
func New(store storage.Store, opts Options) *Chewer {
	c := &Chewer{
		store:     store,
		tree:      opts.Tree,
		parser:    opts.Parser,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
	if c.tree.ID == "" {
		c.tree = LocalTree()
	}
	if c.parser == nil {
		c.parser = DefaultLineParser()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	return c
}

// Chew ingests the log at path. The flat record write is the commit point:
// a failed notification afterwards is logged and does not fail the call.
func (c *Chewer) Chew(ctx context.Context, path string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := c.logger.With("tree", c.tree.ID, "path", path)

	if err := c.store.Bootstrap(ctx); err != nil {
		return Result{}, err
	}
	pushID, err := NextPushID(ctx, c.store, c.tree.ID)
	if err != nil {
		return Result{}, err
	}
	logger.Info("allocated push id", "push", pushID)

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	parsed, err := c.parse(ctx, path)
	if err != nil {
		return Result{}, err
	}

	mtime := info.ModTime()
	rec, err := flatrec.Encode(flatrec.SyntheticPush{
		PushID:          pushID,
		Timestamp:       mtime,
		Overview:        parsed.Overview,
		ArtifactPath:    path,
		ArtifactModTime: mtime,
		ProcessedLog:    parsed.Processed,
	})
	if err != nil {
		return Result{}, err
	}

	logger.Debug("writing push", "push", pushID, "entries", len(rec))
	write, err := c.store.PutPushStuff(ctx, c.tree.ID, pushID, rec)
	if err != nil {
		return Result{}, fmt.Errorf("write push %d: %w", pushID, err)
	}
	result := Result{PushID: pushID, State: flatrec.BuildState(parsed.Overview), Write: write}

	scrapeStamp := c.clock().UnixMilli()
	meta := storage.ScrapeMeta{Timestamp: scrapeStamp, HighPushID: pushID}
	if err := c.store.MetaLogTreeScrape(ctx, c.tree.Name, c.tree.Local, meta); err != nil {
		return result, fmt.Errorf("record scrape of %s: %w", c.tree.Name, err)
	}

	result.Notified = c.notify(ctx, logger, pushID, rec, scrapeStamp)
	logger.Info("push written", "push", pushID, "state", result.State, "notified", result.Notified)
	return result, nil
}

func (c *Chewer) parse(ctx context.Context, path string) (ParsedLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return ParsedLog{}, err
	}
	defer f.Close()

	parsed, err := c.parser.Parse(ctx, f)
	if err != nil {
		return ParsedLog{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return parsed, nil
}

func (c *Chewer) notify(ctx context.Context, logger *slog.Logger, pushID int64, rec types.FlatRecord, scrapeStamp int64) bool {
	if c.publisher == nil {
		return false
	}
	err := c.publisher.Publish(ctx, notify.Message{
		Type:                  notify.TypePush,
		TreeName:              c.tree.Name,
		PushID:                pushID,
		KeysAndValues:         rec,
		ScrapeTimestampMillis: scrapeStamp,
	})
	if err != nil {
		logger.Warn("push notification failed, continuing", "push", pushID, "error", err)
		return false
	}
	return true
}
