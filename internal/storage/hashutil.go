package storage

import (
	"encoding/hex"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/onexay/pushwatch/internal/types"
)

// computeRecordDigest hashes a record in key order so equal records always
// digest the same regardless of map iteration.
func computeRecordDigest(rec types.FlatRecord) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	h := blake3.New()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(rec[k]))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
