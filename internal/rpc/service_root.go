package rpc

import (
	"github.com/cuemby/assethub/internal/broadcast"
	"github.com/cuemby/assethub/internal/filesource"
	"github.com/cuemby/assethub/internal/snapshot"
	"github.com/cuemby/assethub/internal/store"
)

// ServiceContext is the shared reference every Service Root holds: the
// store, the file source, the broadcaster, and the watch directories. It
// holds no separate file tracker or artifact cache.
type ServiceContext struct {
	Store       *store.Store
	Source      filesource.AssetSource
	Broadcaster *broadcast.Broadcaster
	WatchDirs   []string
}

// ServiceRoot is the capability served on each fresh connection.
// Stateless beyond ServiceContext; all mutable state (the snapshot and
// listener capability tables) lives in the owning vat.
type ServiceRoot struct {
	ctx *ServiceContext
}

// NewServiceRoot builds a ServiceRoot over the shared service context.
func NewServiceRoot(ctx *ServiceContext) *ServiceRoot {
	return &ServiceRoot{ctx: ctx}
}

// GetSnapshot opens a read transaction and wraps it in a new Snapshot
// Handle (spec.md §4.3).
func (r *ServiceRoot) GetSnapshot() (*snapshot.Handle, error) {
	return snapshot.New(r.ctx.Store, r.ctx.Source)
}

// RegisterListener hands sink to the broadcaster and returns a stop
// function releasing the registration.
func (r *ServiceRoot) RegisterListener(sink broadcast.Sink) (stop func()) {
	return r.ctx.Broadcaster.Register(sink)
}
