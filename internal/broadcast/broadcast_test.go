package broadcast

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/assethub/internal/filesource"
	"github.com/cuemby/assethub/internal/log"
	"github.com/cuemby/assethub/internal/store"
)

type fakeSink struct {
	mu      sync.Mutex
	updates []Update
	fail    bool
}

func (f *fakeSink) Send(u Update) error {
	_ = u.Snapshot.Release()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("simulated send failure")
	}
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "assethub.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	src, err := filesource.NewBoltFileSource()
	require.NoError(t, err)
	t.Cleanup(src.Close)

	return New(s, src, log.Logger), s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestRegisterDeliversInitialSnapshot(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	sink := &fakeSink{}
	b.Register(sink)

	waitFor(t, time.Second, func() bool { return sink.count() >= 1 })
}

// TestListenerFanOut is S6: two listeners, two commits, each listener
// receives at least two updates, final latestChange equals the last seq.
// sink1 is awaited for three updates (the initial one plus one per commit,
// none coalesced since the queue never fills) so that the update inspected
// is the one delivered after the second commit.
func TestListenerFanOut(t *testing.T) {
	b, s := newTestBroadcaster(t)
	sink1 := &fakeSink{}
	sink2 := &fakeSink{}
	b.Register(sink1)
	b.Register(sink2)

	waitFor(t, time.Second, func() bool { return sink1.count() >= 1 && sink2.count() >= 1 })

	require.NoError(t, s.CommitBatch(store.Batch{ChangeSeq: 0, ChangeData: []byte("b1")}))
	b.NotifyCommit()
	require.NoError(t, s.CommitBatch(store.Batch{ChangeSeq: 1, ChangeData: []byte("b2")}))
	b.NotifyCommit()

	waitFor(t, time.Second, func() bool { return sink1.count() >= 3 && sink2.count() >= 2 })

	sink1.mu.Lock()
	last1 := sink1.updates[len(sink1.updates)-1]
	sink1.mu.Unlock()
	assert.Equal(t, uint64(1), last1.LatestChange)
}

// TestListenerEviction is invariant 7: after a send failure the listener
// is removed from the registry.
func TestListenerEviction(t *testing.T) {
	b, s := newTestBroadcaster(t)
	sink := &fakeSink{fail: true}
	b.Register(sink)

	waitFor(t, time.Second, func() bool { return b.Count() == 0 })

	// A subsequent commit must not panic or block even though the
	// listener is gone.
	require.NoError(t, s.CommitBatch(store.Batch{ChangeSeq: 0, ChangeData: []byte("b1")}))
	b.NotifyCommit()
}

func TestNotifyCommitCoalescesOnFullQueue(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	sink := &fakeSink{}
	// Block delivery by never letting the sink drain fast enough: easiest
	// is to just flood NotifyCommit before the loop can keep up.
	b.Register(sink)

	for i := 0; i < queueCapacity*4; i++ {
		b.NotifyCommit()
	}

	// Must not deadlock or block; the broadcaster's job is coalescing, not
	// guaranteeing delivery of every signal.
	waitFor(t, time.Second, func() bool { return sink.count() >= 1 })
}

func TestExplicitStop(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	sink := &fakeSink{}
	stop := b.Register(sink)

	waitFor(t, time.Second, func() bool { return b.Count() == 1 })
	stop()
	waitFor(t, time.Second, func() bool { return b.Count() == 0 })
}
