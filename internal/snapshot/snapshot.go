// Package snapshot implements the Snapshot Handle of spec.md §4.1: a
// capability backed by one pinned read transaction, offering the metadata,
// artifact, change-log, and path queries that make up the RPC query
// surface.
package snapshot

import (
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/assethub/internal/assets"
	"github.com/cuemby/assethub/internal/filesource"
	"github.com/cuemby/assethub/internal/metrics"
	"github.com/cuemby/assethub/internal/store"
)

// Handle is a Snapshot capability: all queries on it observe the same
// committed state, the one visible at the moment its transaction was
// opened. Release must be called on the last reference drop to release
// the pinned transaction; only its first call has effect (spec.md §9
// "pinned-transaction ownership").
type Handle struct {
	tx     *bolt.Tx
	source filesource.AssetSource

	mu       sync.Mutex
	released bool
}

// New opens a fresh read transaction against s and wraps it in a Handle.
// Callers hold the returned Handle until the client drops the
// corresponding capability, then call Release.
func New(s *store.Store, source filesource.AssetSource) (*Handle, error) {
	tx, err := s.BeginRead()
	if err != nil {
		return nil, assets.Wrap(assets.KindUnavailable, "open read transaction", err)
	}
	return &Handle{tx: tx, source: source}, nil
}

// Release drops the pinned transaction. Safe to call more than once;
// only the first call has effect, matching "the transaction is released
// exactly once" (spec.md §9).
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	return h.tx.Rollback()
}

func getMetadata(tx *bolt.Tx, id assets.Id) (assets.Metadata, bool, error) {
	raw := tx.Bucket(store.BucketAssets()).Get(id.Bytes())
	if raw == nil {
		return assets.Metadata{}, false, nil
	}
	m, err := assets.DecodeMetadata(raw)
	if err != nil {
		return assets.Metadata{}, false, err
	}
	return m, true, nil
}

// GetAssetMetadata implements AssetHubSnapshot.getAssetMetadata: missing
// ids are silently dropped (spec.md §4.1, §7 "per-element misses are not
// errors").
func (h *Handle) GetAssetMetadata(ids []assets.Id) ([]assets.Metadata, error) {
	out := make([]assets.Metadata, 0, len(ids))
	for _, id := range ids {
		m, ok, err := getMetadata(h.tx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetAssetMetadataWithDependencies implements
// AssetHubSnapshot.getAssetMetadataWithDependencies: a one-hop transitive
// closure through each resolved asset's load_deps, deliberately not
// recursive (spec.md §4.1, §9 Open Questions — "implementers should not
// deepen silently").
func (h *Handle) GetAssetMetadataWithDependencies(ids []assets.Id) ([]assets.Metadata, error) {
	seen := make(map[assets.Id]assets.Metadata)

	for _, id := range ids {
		m, ok, err := getMetadata(h.tx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seen[id] = m
	}

	// Second pass so newly discovered deps don't get walked themselves —
	// exactly one hop beyond the initially resolved set.
	initial := make([]assets.Metadata, 0, len(seen))
	for _, m := range seen {
		initial = append(initial, m)
	}
	for _, m := range initial {
		for _, dep := range m.LoadDeps {
			if dep.Kind != assets.RefUUID {
				continue
			}
			if _, already := seen[dep.Id]; already {
				continue
			}
			depMeta, ok, err := getMetadata(h.tx, dep.Id)
			if err != nil {
				return nil, err
			}
			if ok {
				seen[dep.Id] = depMeta
			}
		}
	}

	out := make([]assets.Metadata, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	return out, nil
}

// GetAllAssetMetadata implements AssetHubSnapshot.getAllAssetMetadata: a
// full unfiltered scan of the metadata keyspace.
func (h *Handle) GetAllAssetMetadata() ([]assets.Metadata, error) {
	var out []assets.Metadata
	b := h.tx.Bucket(store.BucketAssets())
	err := b.ForEach(func(_, v []byte) error {
		m, err := assets.DecodeMetadata(v)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetImportArtifacts implements AssetHubSnapshot.getImportArtifacts: for
// each id, resolves metadata then regenerates via the configured
// AssetSource. An individual id's regeneration failure fails the whole
// call, per spec.md §7's ArtifactRegenerationError.
func (h *Handle) GetImportArtifacts(ids []assets.Id) ([]assets.Artifact, error) {
	out := make([]assets.Artifact, 0, len(ids))
	var scratch []byte

	for _, id := range ids {
		m, ok, err := getMetadata(h.tx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !m.Source.Valid() {
			return nil, assets.New(assets.KindSchemaError, "unknown asset source variant")
		}
		start := time.Now()
		sa, err := h.source.Regenerate(h.tx, id, scratch)
		metrics.ArtifactRegenDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ArtifactRegenFailuresTotal.Inc()
			return nil, assets.Wrap(assets.KindInternal, "regenerate artifact for "+id.String(), err)
		}
		// sa.Data is returned to the caller, so it must not become the
		// scratch space of the next regeneration; grow a separate buffer.
		if cap(scratch) < len(sa.Data) {
			scratch = make([]byte, 0, len(sa.Data))
		}
		out = append(out, assets.Artifact{Metadata: sa.Metadata, Data: sa.Data})
	}
	return out, nil
}

// GetLatestAssetChange implements AssetHubSnapshot.getLatestAssetChange:
// the greatest sequence number in the change log, or 0 when it is empty.
// Keys are little-endian, so every key is compared numerically rather than
// taking the byte-order last one.
func (h *Handle) GetLatestAssetChange() (uint64, error) {
	var latest uint64
	c := h.tx.Bucket(store.BucketChangeLog()).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if seq := store.SeqFromKey(k); seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

// GetAssetChanges implements AssetHubSnapshot.getAssetChanges. count == 0
// means unbounded.
func (h *Handle) GetAssetChanges(start uint64, count uint64) ([]assets.ChangeLogEntry, error) {
	var out []assets.ChangeLogEntry
	c := h.tx.Bucket(store.BucketChangeLog()).Cursor()

	for k, v := c.Seek(store.SeqKey(start)); k != nil; k, v = c.Next() {
		seq := store.SeqFromKey(k)
		out = append(out, assets.ChangeLogEntry{Seq: seq, Payload: append([]byte(nil), v...)})
		if count != 0 && uint64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// GetPathForAssets implements AssetHubSnapshot.getPathForAssets.
func (h *Handle) GetPathForAssets(ids []assets.Id) ([]assets.PathForAsset, error) {
	out := make([]assets.PathForAsset, 0, len(ids))
	for _, id := range ids {
		path, ok := h.source.PathForAsset(h.tx, id)
		if !ok {
			continue
		}
		out = append(out, assets.PathForAsset{Id: id, Path: path})
	}
	return out, nil
}

// GetAssetsForPaths implements AssetHubSnapshot.getAssetsForPaths.
// Relative paths are resolved against each watch directory in order,
// taking the first hit (spec.md §4.1).
func (h *Handle) GetAssetsForPaths(paths [][]byte, watchDirs []string) ([]assets.AssetsForPath, error) {
	out := make([]assets.AssetsForPath, 0, len(paths))
	for _, raw := range paths {
		if !utf8.Valid(raw) {
			return nil, assets.New(assets.KindInvalidArgument, "path is not valid UTF-8")
		}
		p := string(raw)

		var ids []assets.Id
		var ok bool
		if filepath.IsAbs(p) {
			ids, ok = h.source.AssetsForPath(h.tx, filepath.Clean(p))
		} else {
			for _, dir := range watchDirs {
				candidate := store.CanonicalizePath(dir, p)
				if ids, ok = h.source.AssetsForPath(h.tx, candidate); ok {
					break
				}
			}
		}
		if !ok {
			continue
		}
		out = append(out, assets.AssetsForPath{Path: raw, Ids: ids})
	}
	return out, nil
}

