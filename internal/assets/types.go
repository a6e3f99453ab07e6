// Package assets defines the data model of the asset pipeline metadata hub:
// asset identifiers, metadata records, artifacts, change-log entries, and
// the path index. The gob encoding of Metadata shared by the store and the
// RPC layer lives in codec.go; frame encoding lives in internal/rpc.
package assets

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Id is a 16-byte opaque asset identity. Equality and hashing are by byte
// value; it is interchangeable with a uuid.UUID (also a [16]byte) but
// carries no UUID version/variant semantics of its own.
type Id [16]byte

// NewId mints a fresh asset id using a random (v4) UUID, matching the
// source's id allocation: any 16 random bytes with high enough entropy not
// to collide in practice.
func NewId() Id {
	return Id(uuid.New())
}

// ParseId validates that b is exactly 16 bytes and returns it as an Id.
// A length mismatch is reported by the caller as a KindInvalidArgument error.
func ParseId(b []byte) (Id, bool) {
	if len(b) != 16 {
		return Id{}, false
	}
	var id Id
	copy(id[:], b)
	return id, true
}

// Bytes returns the id's 16 raw bytes.
func (id Id) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

func (id Id) String() string {
	return hex.EncodeToString(id[:])
}

// Source identifies where an asset's bytes come from. Only File is
// reachable in this core; other variants are reserved in the wire schema
// (spec.md §9 Open Questions) and decode as SchemaError.
type Source uint8

const (
	SourceFile Source = iota
	sourceVariantCount
)

// Valid reports whether s is a known, implemented source variant.
func (s Source) Valid() bool {
	return s < sourceVariantCount
}

// RefKind discriminates the variants of an AssetRef.
type RefKind uint8

const (
	// RefUUID is a direct asset id reference.
	RefUUID RefKind = iota
	// RefPath is a path-based reference, resolvable only through the
	// external file source (spec.md §4.1 GetAssetsForPaths note; §9 Open
	// Questions). This core does not resolve RefPath entries:
	// GetAssetMetadataWithDependencies skips them.
	RefPath
)

// Ref is a tagged reference that resolves to an Id, used in a metadata
// record's dependency list.
type Ref struct {
	Kind RefKind
	Id   Id     // valid when Kind == RefUUID
	Path []byte // valid when Kind == RefPath
}

// Metadata is the per-asset record: source tag, dependency list, a pointer
// to the latest built artifact (may be nil), and an opaque importer
// payload this core never interprets.
type Metadata struct {
	Id         Id
	Source     Source
	LoadDeps   []Ref
	Artifact   *ArtifactHandle
	Attributes []byte
}

// ArtifactHandle is a content-addressed pointer to the latest built
// artifact for an asset; the full Artifact bytes are fetched separately
// via GetImportArtifacts.
type ArtifactHandle struct {
	Hash [32]byte
}

// ArtifactMetadata is the header accompanying an artifact's byte payload.
type ArtifactMetadata struct {
	Hash              [32]byte
	CompressedSize    uint64
	UncompressedSize  uint64
}

// Artifact is a content-addressed blob: a metadata header plus the raw
// byte payload, produced either from the artifact cache or by on-demand
// regeneration through the external file source.
type Artifact struct {
	Metadata ArtifactMetadata
	Data     []byte
}

// SerializedAsset is what an external FileAssetSource hands back after
// regenerating an asset's artifact.
type SerializedAsset struct {
	Metadata ArtifactMetadata
	Data     []byte
}

// ChangeLogEntry is one append-only, densely-numbered record describing a
// committed writer batch. Payload is opaque to this core.
type ChangeLogEntry struct {
	Seq     uint64
	Payload []byte
}

// PathForAsset pairs an asset id with its resolved source path (native
// filesystem byte encoding, not necessarily UTF-8).
type PathForAsset struct {
	Id   Id
	Path []byte
}

// AssetsForPath pairs a requested path with the set of asset ids whose
// source is that file.
type AssetsForPath struct {
	Path []byte
	Ids  []Id
}
