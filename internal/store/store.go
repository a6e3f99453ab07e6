// Package store is the bbolt-backed embedded key-value engine standing in
// for the external Environment named in spec.md §1: a transactional store
// offering many concurrent readers, one writer, and byte-ordered key
// iteration. It also carries the path index bucket that a real FileTracker
// would otherwise own, so the daemon is runnable end-to-end.
package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/assethub/internal/metrics"
)

var (
	bucketAssets    = []byte("assets")
	bucketChangeLog = []byte("changelog")
	bucketPaths     = []byte("paths")
	bucketArtifacts = []byte("artifacts")
)

// Store wraps a bbolt.DB with the bucket layout the asset hub core expects.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at dbPath and ensures all
// buckets exist.
func Open(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAssets, bucketChangeLog, bucketPaths, bucketArtifacts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRead opens a new read-only transaction pinned to the store's state
// at this instant. The caller owns its lifetime and must call Rollback
// exactly once (bbolt refuses Commit on a read-only tx).
func (s *Store) BeginRead() (*bolt.Tx, error) {
	return s.db.Begin(false)
}

// Update runs fn in a read-write transaction. It exists for writer-side
// collaborators (the import pipeline, tests) that need direct bucket
// access outside the CommitBatch shape, such as populating the artifacts
// bucket's raw content ahead of regeneration.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error {
	return s.db.Update(fn)
}

// SeqKey encodes a change-log sequence number as 8 little-endian bytes,
// per spec.md §6: "64-bit sequence numbers are encoded as 8 bytes little-
// endian in the store's keyspace; iteration uses byte-ordered comparison."
// This is preserved exactly as specified, including its consequence that
// byte-ordered iteration only matches numeric order below 256; the spec
// calls this out deliberately (§9 Open Questions) rather than asking
// implementers to silently switch to big-endian.
func SeqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, seq)
	return b
}

// SeqFromKey decodes a SeqKey back to a uint64.
func SeqFromKey(k []byte) uint64 {
	return binary.LittleEndian.Uint64(k)
}

// Batch is one atomic writer-side commit: a set of asset metadata upserts,
// path index upserts, and exactly one new change-log entry. CommitBatch is
// the write path for these records (Update is the other write path, for
// direct bucket access); the core's RPC surface never writes.
type Batch struct {
	Assets     map[[16]byte][]byte // asset id -> serialized assets.Metadata
	Paths      map[string][]byte   // canonical path -> serialized path record
	ChangeSeq  uint64
	ChangeData []byte
}

// CommitBatch applies b atomically: every asset and path upsert plus
// exactly one change-log entry at b.ChangeSeq, all in one bbolt
// transaction. Callers compute ChangeSeq via NextSeq beforehand.
func (s *Store) CommitBatch(b Batch) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		assets := tx.Bucket(bucketAssets)
		for id, data := range b.Assets {
			if err := assets.Put(id[:], data); err != nil {
				return fmt.Errorf("put asset: %w", err)
			}
		}
		paths := tx.Bucket(bucketPaths)
		for path, data := range b.Paths {
			if err := paths.Put([]byte(path), data); err != nil {
				return fmt.Errorf("put path: %w", err)
			}
		}
		cl := tx.Bucket(bucketChangeLog)
		return cl.Put(SeqKey(b.ChangeSeq), b.ChangeData)
	})
	if err == nil {
		metrics.ChangeLogLatestSeq.Set(float64(b.ChangeSeq))
	}
	return err
}

// NextSeq returns one past the greatest change-log sequence number
// currently committed, i.e. the sequence the next CommitBatch should use.
// Keys are little-endian, so the byte-order last key is not the greatest
// sequence past 255; every key is compared numerically instead.
func (s *Store) NextSeq() (uint64, error) {
	var next uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChangeLog).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if seq := SeqFromKey(k); seq+1 > next {
				next = seq + 1
			}
		}
		return nil
	})
	return next, err
}

// CanonicalizePath joins a relative path onto watchDir and cleans it,
// matching the file source's "canonicalized join" resolution rule from
// spec.md §4.1.
func CanonicalizePath(watchDir, rel string) string {
	return filepath.Clean(filepath.Join(watchDir, rel))
}

// BucketAssets, BucketChangeLog, BucketPaths, BucketArtifacts expose the
// bucket names to packages (snapshot, filesource) that need to read
// directly from a caller-owned *bolt.Tx rather than through Store's own
// transaction-scoped helpers.
func BucketAssets() []byte    { return bucketAssets }
func BucketChangeLog() []byte { return bucketChangeLog }
func BucketPaths() []byte     { return bucketPaths }
func BucketArtifacts() []byte { return bucketArtifacts }
