package filesource

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/assethub/internal/assets"
	"github.com/cuemby/assethub/internal/store"
)

func TestRegenerateRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assethub.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	src, err := NewBoltFileSource()
	require.NoError(t, err)
	defer src.Close()

	id := assets.NewId()
	raw := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to give zstd something to compress")

	err = s.Update(func(tx *bolt.Tx) error {
		return src.PutRawContent(tx, id, raw)
	})
	require.NoError(t, err)

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Rollback()

	sa, err := src.Regenerate(tx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(raw)), sa.Metadata.UncompressedSize)
	assert.NotZero(t, sa.Metadata.Hash)

	back, err := src.Decompress(sa.Data)
	require.NoError(t, err)
	assert.Equal(t, raw, back)
}

func TestRegenerateMissingAsset(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assethub.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	src, err := NewBoltFileSource()
	require.NoError(t, err)
	defer src.Close()

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = src.Regenerate(tx, assets.NewId(), nil)
	assert.Equal(t, assets.KindNotFound, assets.KindOf(err))
}

func TestPathRecordRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "assethub.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	src, err := NewBoltFileSource()
	require.NoError(t, err)
	defer src.Close()

	id := assets.NewId()
	encoded, err := EncodePathRecord([]assets.Id{id})
	require.NoError(t, err)

	err = s.CommitBatch(store.Batch{
		Paths:      map[string][]byte{"/w/foo/bar.png": encoded},
		ChangeSeq:  0,
		ChangeData: []byte{},
	})
	require.NoError(t, err)

	tx, err := s.BeginRead()
	require.NoError(t, err)
	defer tx.Rollback()

	ids, ok := src.AssetsForPath(tx, "/w/foo/bar.png")
	require.True(t, ok)
	assert.Equal(t, []assets.Id{id}, ids)

	path, ok := src.PathForAsset(tx, id)
	require.True(t, ok)
	assert.Equal(t, "/w/foo/bar.png", string(path))
}

