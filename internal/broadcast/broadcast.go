// Package broadcast implements the Change Broadcaster of spec.md §4.2: it
// owns the set of registered listener capabilities and, on every writer
// batch-commit, schedules a per-listener delivery carrying a fresh
// snapshot and the latest change-sequence number. Grounded on the
// teacher's event broker (bounded per-subscriber channel, drop-on-full,
// map-under-mutex) generalized from fan-out-of-events to
// fan-out-of-commit-signals with per-listener snapshot construction.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/assethub/internal/filesource"
	"github.com/cuemby/assethub/internal/metrics"
	"github.com/cuemby/assethub/internal/snapshot"
	"github.com/cuemby/assethub/internal/store"
)

// queueCapacity is the bounded per-listener delivery queue capacity
// mandated by spec.md §4.2.
const queueCapacity = 16

// Update is what a listener's update(...) method is called with.
type Update struct {
	LatestChange uint64
	Snapshot     *snapshot.Handle
}

// Sink is the listener capability's callback surface: update(latestChange,
// snapshot). Send must consume/release snap when it returns, whether it
// succeeds or fails. The RPC layer's listener proxy implements this over
// the wire; tests can implement it in-process.
type Sink interface {
	Send(u Update) error
}

// Registration is the broadcaster's bookkeeping for one registered
// listener: the sink plus its bounded signal queue.
type registration struct {
	id     uint64
	sink   Sink
	signal chan struct{}
}

// Broadcaster owns the live listener set and fans out a commit signal to
// each one without ever blocking the writer.
type Broadcaster struct {
	store  *store.Store
	source filesource.AssetSource
	logger zerolog.Logger

	mu       sync.Mutex
	nextID   uint64
	listeners map[uint64]*registration
}

// New builds a Broadcaster over the given store and file source. The
// store and source are shared with every Snapshot Handle the delivery
// loops construct.
func New(s *store.Store, source filesource.AssetSource, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		store:     s,
		source:    source,
		logger:    logger,
		listeners: make(map[uint64]*registration),
	}
}

// Register implements the registration protocol of spec.md §4.2: allocate
// a bounded queue, record the sink, immediately enqueue a synthetic
// Commit so the new listener gets an initial snapshot, and start its
// delivery loop. The returned stop function can be used to tear the
// listener down explicitly (e.g. on connection close) in addition to the
// loop's own self-eviction on send failure.
func (b *Broadcaster) Register(sink Sink) (stop func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	reg := &registration{id: id, sink: sink, signal: make(chan struct{}, queueCapacity)}
	b.listeners[id] = reg
	b.mu.Unlock()

	metrics.ListenersRegistered.Inc()

	// Synthetic initial Commit (spec.md §4.2 step 3).
	reg.signal <- struct{}{}

	go b.deliveryLoop(reg)

	return func() { b.drop(id) }
}

// NotifyCommit is the writer-side contract: one call per committed batch.
// It never blocks; a full queue coalesces by dropping the new signal,
// which is safe because listeners always re-read latest_change from a
// fresh snapshot (spec.md §4.2, §9).
func (b *Broadcaster) NotifyCommit() {
	b.mu.Lock()
	regs := make([]*registration, 0, len(b.listeners))
	for _, r := range b.listeners {
		regs = append(regs, r)
	}
	b.mu.Unlock()

	for _, r := range regs {
		select {
		case r.signal <- struct{}{}:
		default:
			metrics.CommitEventsDroppedTotal.Inc()
		}
	}
}

// Count returns the number of currently registered listeners, for tests
// asserting eviction (invariant 7).
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *Broadcaster) drop(id uint64) {
	b.mu.Lock()
	reg, ok := b.listeners[id]
	if ok {
		delete(b.listeners, id)
	}
	b.mu.Unlock()
	if ok {
		close(reg.signal)
		metrics.ListenersRegistered.Dec()
	}
}

func (b *Broadcaster) deliveryLoop(reg *registration) {
	for range reg.signal {
		h, err := snapshot.New(b.store, b.source)
		if err != nil {
			b.logger.Error().Err(err).Uint64("listener_id", reg.id).Msg("broadcaster: open snapshot for delivery failed")
			b.drop(reg.id)
			return
		}

		latest, err := h.GetLatestAssetChange()
		if err != nil {
			_ = h.Release()
			b.logger.Error().Err(err).Uint64("listener_id", reg.id).Msg("broadcaster: read latest change failed")
			b.drop(reg.id)
			return
		}

		if err := reg.sink.Send(Update{LatestChange: latest, Snapshot: h}); err != nil {
			b.logger.Debug().Err(err).Uint64("listener_id", reg.id).Msg("broadcaster: listener delivery failed, evicting")
			metrics.ListenersEvictedTotal.Inc()
			b.drop(reg.id)
			return
		}
		metrics.UpdatesDeliveredTotal.Inc()
	}
}
