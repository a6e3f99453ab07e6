package rpc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/assethub/internal/assets"
	"github.com/cuemby/assethub/internal/broadcast"
	"github.com/cuemby/assethub/internal/metrics"
	"github.com/cuemby/assethub/internal/snapshot"
)

// Vat is the single-threaded cooperative scheduling domain hosting one
// connection's RPC machinery (spec.md §4.4, §5): the Service Root
// capability plus every snapshot capability minted on it. All capability
// calls on a vat are processed one at a time by its own dispatch loop; no
// work crosses vats.
type Vat struct {
	id     string
	codec  *Codec
	root   *ServiceRoot
	logger zerolog.Logger

	mu             sync.Mutex
	snapshots      map[CapRef]*snapshot.Handle
	nextCap        CapRef
	nextListenerID uint64
	listenerStops  []func()
	closed         bool
}

// NewVat builds a vat around an already-open Codec. id is a short
// human-readable connection identifier used in log lines.
func NewVat(id string, codec *Codec, root *ServiceRoot, logger zerolog.Logger) *Vat {
	return &Vat{
		id:        id,
		codec:     codec,
		root:      root,
		logger:    logger,
		snapshots: make(map[CapRef]*snapshot.Handle),
	}
}

// Run processes requests until the connection closes or a transport error
// occurs, and returns nothing. A client disconnect (io.EOF) ends it without
// a log line; other read errors are logged at debug level. Either way the
// deferred teardown releases the vat's capabilities, per spec.md §4.4's
// Closing→Gone transition.
func (v *Vat) Run() {
	defer v.teardown()

	for {
		frame, err := v.codec.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				v.logger.Debug().Err(err).Msg("vat: read failed, closing connection")
			}
			return
		}
		req, ok := frame.(*Request)
		if !ok {
			v.logger.Warn().Msg("vat: unexpected frame kind from client, closing connection")
			return
		}

		resp := v.dispatch(req)
		resp.ReqID = req.ReqID
		if err := v.codec.WriteResponse(resp); err != nil {
			v.logger.Debug().Err(err).Msg("vat: write response failed, closing connection")
			return
		}
	}
}

// teardown releases every capability this vat minted: open snapshots and
// live listener registrations (spec.md §4.4 "the vat releases all
// capabilities it held as part of its teardown").
func (v *Vat) teardown() {
	v.mu.Lock()
	snaps := v.snapshots
	v.snapshots = nil
	stops := v.listenerStops
	v.listenerStops = nil
	v.closed = true
	v.mu.Unlock()

	for _, h := range snaps {
		_ = h.Release()
		metrics.SnapshotsOpen.Dec()
	}
	for _, stop := range stops {
		stop()
	}
}

func (v *Vat) dispatch(req *Request) *Response {
	switch req.Op {
	case KindGetSnapshot:
		return v.handleGetSnapshot()
	case KindRegisterListener:
		return v.handleRegisterListener()
	case KindReleaseCapability:
		return v.handleReleaseCapability(req.ReleaseTarget)
	default:
		return v.dispatchSnapshotQuery(req)
	}
}

func (v *Vat) handleGetSnapshot() *Response {
	h, err := v.root.GetSnapshot()
	if err != nil {
		return &Response{Err: wireErrorFrom(err)}
	}
	metrics.SnapshotsOpenedTotal.Inc()
	metrics.SnapshotsOpen.Inc()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		_ = h.Release()
		metrics.SnapshotsOpen.Dec()
		return &Response{Err: wireErrorFrom(assets.New(assets.KindUnavailable, "connection closing"))}
	}
	ref := v.nextCap
	v.nextCap++
	v.snapshots[ref] = h
	v.mu.Unlock()

	return &Response{SnapshotCap: ref}
}

func (v *Vat) handleRegisterListener() *Response {
	v.mu.Lock()
	listenerID := v.nextListenerID
	v.nextListenerID++
	v.mu.Unlock()

	sink := &vatSink{vat: v, listenerID: listenerID}
	stop := v.root.RegisterListener(sink)
	sink.stop = stop

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		stop()
		return &Response{Err: wireErrorFrom(assets.New(assets.KindUnavailable, "connection closing"))}
	}
	v.listenerStops = append(v.listenerStops, stop)
	v.mu.Unlock()

	return &Response{}
}

func (v *Vat) handleReleaseCapability(ref CapRef) *Response {
	v.mu.Lock()
	h, ok := v.snapshots[ref]
	if ok {
		delete(v.snapshots, ref)
	}
	v.mu.Unlock()

	if !ok {
		return &Response{Err: wireErrorFrom(assets.NotFound("no such capability"))}
	}
	_ = h.Release()
	metrics.SnapshotsOpen.Dec()
	return &Response{}
}

func (v *Vat) lookupSnapshot(ref CapRef) (*snapshot.Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.snapshots[ref]
	if !ok {
		return nil, assets.NotFound("no such snapshot capability")
	}
	return h, nil
}

func (v *Vat) dispatchSnapshotQuery(req *Request) *Response {
	h, err := v.lookupSnapshot(req.Snapshot)
	if err != nil {
		return &Response{Err: wireErrorFrom(err)}
	}

	ids, err := parseIds(req.Ids)
	if err != nil {
		return &Response{Err: wireErrorFrom(err)}
	}

	start := time.Now()
	opName, result, qerr := runQuery(h, req, ids, v.root.ctx.WatchDirs)
	metrics.QueryDuration.WithLabelValues(opName).Observe(time.Since(start).Seconds())
	metrics.QueriesTotal.WithLabelValues(opName, queryStatus(qerr)).Inc()
	if qerr != nil {
		return &Response{Err: wireErrorFrom(qerr)}
	}
	return result
}

func queryStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func runQuery(h *snapshot.Handle, req *Request, ids []assets.Id, watchDirs []string) (string, *Response, error) {
	switch req.Op {
	case KindGetAssetMetadata:
		m, err := h.GetAssetMetadata(ids)
		return "get_asset_metadata", &Response{Metadata: m}, err
	case KindGetAssetMetadataWithDependencies:
		m, err := h.GetAssetMetadataWithDependencies(ids)
		return "get_asset_metadata_with_dependencies", &Response{Metadata: m}, err
	case KindGetAllAssetMetadata:
		m, err := h.GetAllAssetMetadata()
		return "get_all_asset_metadata", &Response{Metadata: m}, err
	case KindGetImportArtifacts:
		a, err := h.GetImportArtifacts(ids)
		return "get_import_artifacts", &Response{Artifacts: a}, err
	case KindGetLatestAssetChange:
		seq, err := h.GetLatestAssetChange()
		return "get_latest_asset_change", &Response{Seq: seq}, err
	case KindGetAssetChanges:
		c, err := h.GetAssetChanges(req.Start, req.Count)
		return "get_asset_changes", &Response{Changes: c}, err
	case KindGetPathForAssets:
		p, err := h.GetPathForAssets(ids)
		return "get_path_for_assets", &Response{ForAssets: p}, err
	case KindGetAssetsForPaths:
		p, err := h.GetAssetsForPaths(req.Paths, watchDirs)
		return "get_assets_for_paths", &Response{ForPaths: p}, err
	default:
		return "unknown", nil, fmt.Errorf("unknown op %d", req.Op)
	}
}

func parseIds(raw [][]byte) ([]assets.Id, error) {
	out := make([]assets.Id, 0, len(raw))
	for _, b := range raw {
		id, ok := assets.ParseId(b)
		if !ok {
			return nil, assets.InvalidArgument(fmt.Sprintf("invalid asset id length %d, want 16", len(b)))
		}
		out = append(out, id)
	}
	return out, nil
}

// vatSink adapts a connection's Codec into a broadcast.Sink: each commit
// update is sent as a Push frame carrying a freshly minted snapshot
// capability the client can then query.
type vatSink struct {
	vat        *Vat
	stop       func()
	listenerID uint64
}

func (s *vatSink) Send(u broadcast.Update) error {
	v := s.vat
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		_ = u.Snapshot.Release()
		return errors.New("vat closed")
	}
	ref := v.nextCap
	v.nextCap++
	v.snapshots[ref] = u.Snapshot
	v.mu.Unlock()
	metrics.SnapshotsOpenedTotal.Inc()
	metrics.SnapshotsOpen.Inc()

	push := &Push{ListenerID: s.listenerID, LatestChange: u.LatestChange, SnapshotCap: ref}
	if err := v.codec.WritePush(push); err != nil {
		v.mu.Lock()
		delete(v.snapshots, ref)
		v.mu.Unlock()
		_ = u.Snapshot.Release()
		metrics.SnapshotsOpen.Dec()
		return fmt.Errorf("write push: %w", err)
	}
	return nil
}
