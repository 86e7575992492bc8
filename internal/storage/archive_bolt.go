package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

const (
	boltRootBucket = "trees"
)

// BoltArchive stores zstd-compressed log payloads inside a BoltDB file,
// one bucket per tree keyed by push id.
type BoltArchive struct {
	db   *bolt.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	once sync.Once
}

// NewBoltArchive opens (or creates) a BoltDB archive at the provided path.
func NewBoltArchive(path string) (*BoltArchive, error) {
	if path == "" {
		return nil, errors.New("archive path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltRootBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, err
	}

	return &BoltArchive{db: db, enc: enc, dec: dec}, nil
}

func archiveKey(pushID int64) []byte {
	return []byte(strconv.FormatInt(pushID, 10))
}

// Store writes payload data under tree/pushID.
func (a *BoltArchive) Store(ctx context.Context, tree string, pushID int64, data []byte) error {
	compressed := a.enc.EncodeAll(data, nil)
	return a.db.Update(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return errors.New("archive root bucket missing")
		}

		treeBucket, err := root.CreateBucketIfNotExists([]byte(tree))
		if err != nil {
			return err
		}

		return treeBucket.Put(archiveKey(pushID), compressed)
	})
}

// Fetch retrieves payload data for tree/pushID.
func (a *BoltArchive) Fetch(ctx context.Context, tree string, pushID int64) ([]byte, error) {
	var compressed []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := pushRowKey(tree, pushID)
		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return &NotFoundError{Resource: "archive", Key: key}
		}

		treeBucket := root.Bucket([]byte(tree))
		if treeBucket == nil {
			return &NotFoundError{Resource: "archive", Key: key}
		}

		data := treeBucket.Get(archiveKey(pushID))
		if data == nil {
			return &NotFoundError{Resource: "archive", Key: key}
		}

		compressed = append([]byte{}, data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a.dec.DecodeAll(compressed, nil)
}

// Remove deletes payload data (best-effort).
func (a *BoltArchive) Remove(ctx context.Context, tree string, pushID int64) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		root := tx.Bucket([]byte(boltRootBucket))
		if root == nil {
			return nil
		}
		treeBucket := root.Bucket([]byte(tree))
		if treeBucket == nil {
			return nil
		}
		return treeBucket.Delete(archiveKey(pushID))
	})
}

// Close shuts down the Bolt DB.
func (a *BoltArchive) Close() error {
	a.once.Do(func() {
		_ = a.enc.Close()
		a.dec.Close()
		_ = a.db.Close()
	})
	return nil
}
