package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/assethub/internal/assets"
	"github.com/cuemby/assethub/internal/filesource"
	"github.com/cuemby/assethub/internal/store"
)

func newTestFixture(t *testing.T) (*store.Store, *filesource.BoltFileSource) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "assethub.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	src, err := filesource.NewBoltFileSource()
	require.NoError(t, err)
	t.Cleanup(src.Close)

	return s, src
}

func putAsset(t *testing.T, s *store.Store, m assets.Metadata) {
	t.Helper()
	data, err := assets.EncodeMetadata(m)
	require.NoError(t, err)
	var id [16]byte = [16]byte(m.Id)
	require.NoError(t, s.CommitBatch(store.Batch{
		Assets:     map[[16]byte][]byte{id: data},
		ChangeSeq:  mustNextSeq(t, s),
		ChangeData: []byte("commit"),
	}))
}

func mustNextSeq(t *testing.T, s *store.Store) uint64 {
	t.Helper()
	seq, err := s.NextSeq()
	require.NoError(t, err)
	return seq
}

// TestSnapshotStability is S1: a snapshot opened before a commit must not
// observe assets introduced by that commit.
func TestSnapshotStability(t *testing.T) {
	s, src := newTestFixture(t)

	a := assets.Metadata{Id: assets.NewId(), Source: assets.SourceFile}
	b := assets.Metadata{Id: assets.NewId(), Source: assets.SourceFile}
	putAsset(t, s, a)
	putAsset(t, s, b)

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	c := assets.Metadata{Id: assets.NewId(), Source: assets.SourceFile}
	putAsset(t, s, c)

	all, err := h.GetAllAssetMetadata()
	require.NoError(t, err)
	ids := idSet(all)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, a.Id)
	assert.Contains(t, ids, b.Id)
	assert.NotContains(t, ids, c.Id)

	latest, err := h.GetLatestAssetChange()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest)
}

func idSet(ms []assets.Metadata) []assets.Id {
	out := make([]assets.Id, len(ms))
	for i, m := range ms {
		out[i] = m.Id
	}
	return out
}

// TestWindowedChangeRead is S2.
func TestWindowedChangeRead(t *testing.T) {
	s, src := newTestFixture(t)
	for seq := uint64(0); seq < 20; seq++ {
		require.NoError(t, s.CommitBatch(store.Batch{ChangeSeq: seq, ChangeData: []byte{byte(seq)}}))
	}

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	changes, err := h.GetAssetChanges(5, 3)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, []uint64{5, 6, 7}, []uint64{changes[0].Seq, changes[1].Seq, changes[2].Seq})
}

// TestUnlimitedChanges is S3.
func TestUnlimitedChanges(t *testing.T) {
	s, src := newTestFixture(t)
	for seq := uint64(0); seq < 20; seq++ {
		require.NoError(t, s.CommitBatch(store.Batch{ChangeSeq: seq, ChangeData: []byte{byte(seq)}}))
	}

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	changes, err := h.GetAssetChanges(0, 0)
	require.NoError(t, err)
	assert.Len(t, changes, 20)
}

// TestPathRoundTrip is S4.
func TestPathRoundTrip(t *testing.T) {
	s, src := newTestFixture(t)

	x := assets.NewId()
	encoded, err := filesource.EncodePathRecord([]assets.Id{x})
	require.NoError(t, err)
	require.NoError(t, s.CommitBatch(store.Batch{
		Paths:      map[string][]byte{"/w/foo/bar.png": encoded},
		ChangeSeq:  0,
		ChangeData: []byte{},
	}))

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	forPaths, err := h.GetAssetsForPaths([][]byte{[]byte("foo/bar.png")}, []string{"/w"})
	require.NoError(t, err)
	require.Len(t, forPaths, 1)
	assert.Equal(t, "foo/bar.png", string(forPaths[0].Path))
	assert.Equal(t, []assets.Id{x}, forPaths[0].Ids)

	paths, err := h.GetPathForAssets([]assets.Id{x})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, x, paths[0].Id)
	assert.Contains(t, string(paths[0].Path), "foo/bar.png")
}

// TestShallowDependencyClosure is S5.
func TestShallowDependencyClosure(t *testing.T) {
	s, src := newTestFixture(t)

	d3 := assets.NewId()
	d2 := assets.NewId()
	d1 := assets.NewId()
	r := assets.NewId()

	putAsset(t, s, assets.Metadata{Id: d3, Source: assets.SourceFile})
	putAsset(t, s, assets.Metadata{Id: d2, Source: assets.SourceFile})
	putAsset(t, s, assets.Metadata{
		Id: d1, Source: assets.SourceFile,
		LoadDeps: []assets.Ref{{Kind: assets.RefUUID, Id: d3}},
	})
	putAsset(t, s, assets.Metadata{
		Id: r, Source: assets.SourceFile,
		LoadDeps: []assets.Ref{{Kind: assets.RefUUID, Id: d1}, {Kind: assets.RefUUID, Id: d2}},
	})

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	result, err := h.GetAssetMetadataWithDependencies([]assets.Id{r})
	require.NoError(t, err)
	got := idSet(result)
	assert.Len(t, got, 3)
	assert.Contains(t, got, r)
	assert.Contains(t, got, d1)
	assert.Contains(t, got, d2)
	assert.NotContains(t, got, d3)
}

// TestSilentMiss is invariant 4.
func TestSilentMiss(t *testing.T) {
	s, src := newTestFixture(t)
	known := assets.NewId()
	putAsset(t, s, assets.Metadata{Id: known, Source: assets.SourceFile})

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	unknown := assets.NewId()
	result, err := h.GetAssetMetadata([]assets.Id{known, unknown})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, known, result[0].Id)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, src := newTestFixture(t)
	h, err := New(s, src)
	require.NoError(t, err)
	assert.NoError(t, h.Release())
	assert.NoError(t, h.Release())
}

func TestGetImportArtifacts(t *testing.T) {
	s, src := newTestFixture(t)

	id := assets.NewId()
	putAsset(t, s, assets.Metadata{Id: id, Source: assets.SourceFile})
	require.NoError(t, s.Update(func(tx *bolt.Tx) error {
		return src.PutRawContent(tx, id, []byte("hello artifact bytes"))
	}))

	h, err := New(s, src)
	require.NoError(t, err)
	defer h.Release()

	artifacts, err := h.GetImportArtifacts([]assets.Id{id})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, uint64(len("hello artifact bytes")), artifacts[0].Metadata.UncompressedSize)
}
