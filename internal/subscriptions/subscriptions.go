// Package subscriptions keeps previously read snapshots up to date as the
// records they depend on change.
package subscriptions

import (
	"slices"

	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/recycle"
	"github.com/hanpama/graphcache/internal/selection"
)

// ReadFunc reads a selector out of a source.
type ReadFunc func(src record.Source, sel selection.Selector) *reader.Snapshot

// Callback receives the new snapshot of a subscription whose data changed.
type Callback func(snap *reader.Snapshot)

type subscription struct {
	id       string
	snapshot *reader.Snapshot
	backup   *reader.Snapshot
	callback Callback
	stale    bool
	disposed bool
}

// Registry holds the active subscriptions of a store.
type Registry struct {
	read             ReadFunc
	subs             []*subscription
	looseAttribution bool
	observer         Observer
}

// Observer is told about every subscription that fired, along with the
// request whose write caused it.
type Observer func(id string, snap *reader.Snapshot, source *selection.RequestDescriptor)

type Option func(*Registry)

// WithLooseAttribution makes UpdateSubscriptions also report the owners of
// subscriptions that overlapped the update without their data changing.
func WithLooseAttribution(enabled bool) Option {
	return func(r *Registry) { r.looseAttribution = enabled }
}

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func New(read ReadFunc, opts ...Option) *Registry {
	r := &Registry{read: read}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Disposable cancels a subscription.
type Disposable struct {
	id      string
	dispose func()
}

func (d Disposable) ID() string { return d.id }

// Dispose removes the subscription. Calling it more than once is a no-op.
func (d Disposable) Dispose() {
	if d.dispose != nil {
		d.dispose()
	}
}

// Subscribe registers callback to run whenever the data of snap changes.
func (r *Registry) Subscribe(snap *reader.Snapshot, callback Callback) Disposable {
	sub := &subscription{id: uuid.NewString(), snapshot: snap, callback: callback}
	r.subs = append(r.subs, sub)
	return Disposable{id: sub.id, dispose: func() {
		sub.disposed = true
		r.subs = slices.DeleteFunc(r.subs, func(s *subscription) bool { return s == sub })
	}}
}

// Size returns the number of active subscriptions.
func (r *Registry) Size() int { return len(r.subs) }

// SnapshotSubscriptions saves the current snapshot of every subscription
// before a transaction writes to the store. Stale subscriptions are read
// again from src so the backup reflects the committed state.
func (r *Registry) SnapshotSubscriptions(src record.Source) {
	for _, sub := range r.subs {
		if !sub.stale {
			sub.backup = sub.snapshot
			continue
		}
		backup := r.read(src, sub.snapshot.Selector)
		backup.Data = recycle.Nodes(sub.snapshot.Data, backup.Data)
		sub.backup = backup
	}
}

// RestoreSubscriptions reinstates the backups taken by
// SnapshotSubscriptions. The data last delivered to the callback is kept,
// so a subscription whose backup differs from it becomes stale and fires
// with the committed data on the next update. A subscription without a
// backup becomes stale too.
func (r *Registry) RestoreSubscriptions() {
	for _, sub := range r.subs {
		backup := sub.backup
		sub.backup = nil
		if backup == nil {
			sub.stale = true
			continue
		}
		if !recycle.Same(backup.Data, sub.snapshot.Data) {
			sub.stale = true
		}
		restored := *backup
		restored.Data = sub.snapshot.Data
		sub.snapshot = &restored
	}
}

// UpdateSubscriptions re-reads the subscriptions affected by updatedIDs,
// runs the callbacks of those whose data changed and returns their owners.
// sourceOwner is the request whose write triggered the update, if any.
func (r *Registry) UpdateSubscriptions(src record.Source, updatedIDs record.IDSet, sourceOwner *selection.RequestDescriptor) []*selection.RequestDescriptor {
	hasUpdatedRecords := len(updatedIDs) > 0
	var owners []*selection.RequestDescriptor
	// Callbacks may dispose subscriptions.
	for _, sub := range slices.Clone(r.subs) {
		if sub.disposed {
			continue
		}
		if owner, ok := r.updateSubscription(src, sub, updatedIDs, hasUpdatedRecords, sourceOwner); ok && owner != nil {
			owners = append(owners, owner)
		}
	}
	return owners
}

func (r *Registry) updateSubscription(src record.Source, sub *subscription, updatedIDs record.IDSet, hasUpdatedRecords bool, sourceOwner *selection.RequestDescriptor) (*selection.RequestDescriptor, bool) {
	snap := sub.snapshot
	overlaps := hasUpdatedRecords && snap.SeenRecords.Intersects(updatedIDs)
	if !sub.stale && !overlaps {
		return nil, false
	}
	next := sub.backup
	if overlaps || next == nil {
		next = r.read(src, snap.Selector)
	}
	copied := *next
	copied.Data = recycle.Nodes(snap.Data, next.Data)
	sub.snapshot = &copied
	sub.stale = false
	if !recycle.Same(copied.Data, snap.Data) {
		if r.observer != nil {
			r.observer(sub.id, &copied, sourceOwner)
		}
		sub.callback(&copied)
		return snap.Selector.Owner, true
	}
	if r.looseAttribution && overlaps {
		return snap.Selector.Owner, true
	}
	return nil, false
}
