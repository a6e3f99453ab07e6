// Package filesource provides AssetSource, the contract through which
// this core reaches the file source named as an external collaborator in
// spec.md §1, plus a concrete bbolt-backed implementation so the daemon is
// runnable without a real importer wired in. It defines no FileTracker
// contract. Production deployments are expected to
// replace BoltFileSource with their own importer behind the same
// interface.
package filesource

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/assethub/internal/assets"
)

// AssetSource is the read-side contract the Snapshot Handle calls into
// for artifact regeneration and path resolution. All methods take the
// pinned read transaction they must operate under.
type AssetSource interface {
	// Regenerate produces the current artifact bytes for id's File source,
	// reusing scratch as working space where possible.
	Regenerate(tx *bolt.Tx, id assets.Id, scratch []byte) (assets.SerializedAsset, error)

	// PathForAsset returns the canonical source path for id, or ok=false
	// if the id has no known path (e.g. not a File-sourced asset).
	PathForAsset(tx *bolt.Tx, id assets.Id) (path []byte, ok bool)

	// AssetsForPath returns the ids whose source is the canonicalized
	// path, or ok=false if nothing is tracked at that path.
	AssetsForPath(tx *bolt.Tx, canonicalPath string) (ids []assets.Id, ok bool)
}
