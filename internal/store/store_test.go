package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "assethub.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSeqKeyRoundTrip(t *testing.T) {
	for _, seq := range []uint64{0, 1, 5, 255, 1 << 40} {
		k := SeqKey(seq)
		assert.Len(t, k, 8)
		assert.Equal(t, seq, SeqFromKey(k))
	}
}

func TestCommitBatchAndNextSeq(t *testing.T) {
	s := openTestStore(t)

	next, err := s.NextSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), next)

	var id [16]byte
	id[0] = 1
	err = s.CommitBatch(Batch{
		Assets:     map[[16]byte][]byte{id: []byte("record-1")},
		ChangeSeq:  0,
		ChangeData: []byte("batch-0"),
	})
	require.NoError(t, err)

	next, err = s.NextSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Rollback()

	got := tx.Bucket(BucketAssets()).Get(id[:])
	assert.Equal(t, []byte("record-1"), got)

	cl := tx.Bucket(BucketChangeLog()).Get(SeqKey(0))
	assert.Equal(t, []byte("batch-0"), cl)
}

func TestSnapshotIsolationAcrossCommit(t *testing.T) {
	s := openTestStore(t)

	var a [16]byte
	a[0] = 0xAA
	require.NoError(t, s.CommitBatch(Batch{
		Assets:     map[[16]byte][]byte{a: []byte("a")},
		ChangeSeq:  0,
		ChangeData: []byte("batch-0"),
	}))

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Rollback()

	var b [16]byte
	b[0] = 0xBB
	require.NoError(t, s.CommitBatch(Batch{
		Assets:     map[[16]byte][]byte{b: []byte("b")},
		ChangeSeq:  1,
		ChangeData: []byte("batch-1"),
	}))

	// The pinned transaction must not observe the commit that happened
	// after it was opened.
	assert.Nil(t, tx.Bucket(BucketAssets()).Get(b[:]))
	assert.NotNil(t, tx.Bucket(BucketAssets()).Get(a[:]))
	assert.Nil(t, tx.Bucket(BucketChangeLog()).Get(SeqKey(1)))
}

func TestChangeLogDenseSequence(t *testing.T) {
	s := openTestStore(t)

	for seq := uint64(0); seq < 20; seq++ {
		require.NoError(t, s.CommitBatch(Batch{
			ChangeSeq:  seq,
			ChangeData: []byte{byte(seq)},
		}))
	}

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Rollback()

	c := tx.Bucket(BucketChangeLog()).Cursor()
	var seqs []uint64
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		seqs = append(seqs, SeqFromKey(k))
	}
	require.Len(t, seqs, 20)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i), seq)
	}
}

func TestCanonicalizePath(t *testing.T) {
	assert.Equal(t, filepath.Clean("/w/foo/bar.png"), CanonicalizePath("/w", "foo/bar.png"))
}
