package rpc

import "github.com/cuemby/assethub/internal/assets"

// Kind names the operation a Request carries (Request.Op). KindResponse and
// KindPush name the two server→client messages; frames themselves are
// tagged by wire.go's frameKind, not by Kind.
type Kind uint8

const (
	KindGetSnapshot Kind = iota + 1
	KindRegisterListener
	KindReleaseCapability

	KindGetAssetMetadata
	KindGetAssetMetadataWithDependencies
	KindGetAllAssetMetadata
	KindGetImportArtifacts
	KindGetLatestAssetChange
	KindGetAssetChanges
	KindGetPathForAssets
	KindGetAssetsForPaths

	// KindResponse names the outcome of any of the above requests.
	KindResponse

	// KindPush is server-initiated: a listener update delivered without a
	// matching client request (spec.md §4.2 "update" callback).
	KindPush
)

// CapRef identifies a snapshot capability within one vat's capability
// table; listeners are identified by Push.ListenerID instead. It is never
// meaningful across connections.
type CapRef uint64

// Request is the envelope for every client→server call. Op selects which
// payload field is populated; a given frame only ever uses one.
type Request struct {
	Op   Kind
	ReqID uint64

	// Root-level ops
	RegisterListenerArg struct{} // no argument beyond the call itself

	// Snapshot-scoped ops: every query below targets Snapshot.
	Snapshot CapRef

	// Ids carries asset ids as raw wire bytes rather than assets.Id
	// directly: spec.md §4.1 and invariant 6 require that any id whose
	// length is not exactly 16 bytes fails the whole RPC with
	// InvalidIdLength, which only makes sense to check against an
	// untyped byte slice at the wire boundary.
	Ids   [][]byte
	Paths [][]byte
	Start uint64
	Count uint64

	ReleaseTarget CapRef
}

// Response is the envelope for every server→client reply to a Request,
// correlated by ReqID.
type Response struct {
	ReqID uint64
	Err   *WireError

	SnapshotCap CapRef // KindGetSnapshot

	Metadata  []assets.Metadata        // GetAssetMetadata*, GetAllAssetMetadata
	Artifacts []assets.Artifact        // GetImportArtifacts
	Seq       uint64                   // GetLatestAssetChange
	Changes   []assets.ChangeLogEntry  // GetAssetChanges
	ForAssets []assets.PathForAsset    // GetPathForAssets
	ForPaths  []assets.AssetsForPath   // GetAssetsForPaths
}

// Push is a server-initiated frame delivering a listener update: a fresh
// snapshot capability and the latest change sequence visible under it.
type Push struct {
	ListenerID   uint64
	LatestChange uint64
	SnapshotCap  CapRef
}

// WireError is the serializable form of a domain error (spec.md §7): a
// stable kind string plus a human-readable message, independent of the
// underlying Go error's concrete type.
type WireError struct {
	Kind    string
	Message string
}

func wireErrorFrom(err error) *WireError {
	if err == nil {
		return nil
	}
	return &WireError{Kind: assets.KindOf(err).String(), Message: err.Error()}
}

func (e *WireError) asError() error {
	if e == nil {
		return nil
	}
	var kind assets.Kind
	switch e.Kind {
	case assets.KindNotFound.String():
		kind = assets.KindNotFound
	case assets.KindInvalidArgument.String():
		kind = assets.KindInvalidArgument
	case assets.KindSchemaError.String():
		kind = assets.KindSchemaError
	case assets.KindUnavailable.String():
		kind = assets.KindUnavailable
	default:
		kind = assets.KindInternal
	}
	return assets.New(kind, e.Message)
}
