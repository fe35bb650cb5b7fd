// Package store owns a record source together with its resolver cache and
// subscriptions. Writes are published into the source and then announced
// with Notify, which re-reads the affected subscriptions.
//
// A Store is not safe for concurrent use. Callers serialize access.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hanpama/graphcache/internal/checker"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/normalize"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/resolvercache"
	"github.com/hanpama/graphcache/internal/selection"
	"github.com/hanpama/graphcache/internal/subscriptions"
)

// DefaultActor is the actor checks run as when none is given.
const DefaultActor = "actor:default"

type options struct {
	source                   record.Source
	liveResolvers            bool
	looseAttribution         bool
	bus                      *eventbus.Bus
	queryCacheExpiration     time.Duration
	clock                    func() time.Time
	operationLoader          checker.OperationLoader
	treatMissingFieldsAsNull bool
}

type Option func(*options)

// WithSource makes the store own src instead of an empty MapSource.
func WithSource(src record.Source) Option { return func(o *options) { o.source = src } }

// WithLiveResolvers enables live resolvers, client edges to client objects
// and resolvers returning output types.
func WithLiveResolvers(enabled bool) Option {
	return func(o *options) { o.liveResolvers = enabled }
}

// WithLooseAttribution makes Notify report the owners of every subscription
// touched by a write, even when its data did not change.
func WithLooseAttribution(enabled bool) Option {
	return func(o *options) { o.looseAttribution = enabled }
}

func WithEventBus(b *eventbus.Bus) Option { return func(o *options) { o.bus = b } }

// WithQueryCacheExpiration makes Check report operations fetched longer ago
// than d as stale.
func WithQueryCacheExpiration(d time.Duration) Option {
	return func(o *options) { o.queryCacheExpiration = d }
}

func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

func WithOperationLoader(l checker.OperationLoader) Option {
	return func(o *options) { o.operationLoader = l }
}

// WithTreatMissingFieldsAsNull applies to payloads and resolver outputs
// normalized by the store.
func WithTreatMissingFieldsAsNull(enabled bool) Option {
	return func(o *options) { o.treatMissingFieldsAsNull = enabled }
}

// rootEntry tracks a retained or written operation. A zero epoch means the
// operation was never written.
type rootEntry struct {
	operation *selection.Operation
	refCount  int
	epoch     int64
	fetchTime time.Time
}

type Store struct {
	id   string
	opts options
	bus  *eventbus.Bus

	recordSource record.Source
	optimistic   *record.OptimisticSource

	cache reader.ResolverCache
	live  *resolvercache.LiveCache
	subs  *subscriptions.Registry

	roots                   map[string]*rootEntry
	currentWriteEpoch       int64
	globalInvalidationEpoch int64
	updatedRecordIDs        record.IDSet
	invalidatedRecordIDs    record.IDSet
	invalidationSubs        []*invalidationSubscription

	// notifyCtx is the context of the Notify call in progress.
	notifyCtx context.Context
	disposed  bool
}

var _ resolvercache.Store = (*Store)(nil)

// New creates a store. The root record is created when the source lacks it.
func New(opts ...Option) *Store {
	o := options{clock: time.Now}
	for _, f := range opts {
		f(&o)
	}
	if o.source == nil {
		o.source = record.NewMapSource()
	}
	if !o.source.Has(record.RootID) {
		o.source.Set(record.RootID, record.New(record.RootID, record.RootType))
	}
	s := &Store{
		id:                   uuid.NewString(),
		opts:                 o,
		bus:                  o.bus,
		recordSource:         o.source,
		roots:                map[string]*rootEntry{},
		updatedRecordIDs:     record.IDSet{},
		invalidatedRecordIDs: record.IDSet{},
		notifyCtx:            context.Background(),
	}
	if o.liveResolvers {
		s.live = resolvercache.NewLiveCache(s.Source, s)
		s.cache = s.live
	} else {
		s.cache = resolvercache.NewRecordCache(s.Source)
	}
	s.subs = subscriptions.New(
		func(src record.Source, sel selection.Selector) *reader.Snapshot {
			return reader.Read(src, sel, s.cache)
		},
		subscriptions.WithLooseAttribution(o.looseAttribution),
		subscriptions.WithObserver(s.subscriptionFired),
	)
	return s
}

// ID identifies the store in telemetry.
func (s *Store) ID() string { return s.id }

// Source returns the optimistic overlay while a snapshot is active and the
// committed records otherwise.
func (s *Store) Source() record.Source {
	if s.optimistic != nil {
		return s.optimistic
	}
	return s.recordSource
}

func (s *Store) checkOpen(op string) {
	if s.disposed {
		panic(fmt.Sprintf("store: %s called after Dispose", op))
	}
}

// Lookup reads sel from the current source.
func (s *Store) Lookup(sel selection.Selector) *reader.Snapshot {
	s.checkOpen("Lookup")
	return reader.Read(s.Source(), sel, s.cache)
}

// Subscribe calls callback whenever a Notify changes the data of snap.
func (s *Store) Subscribe(snap *reader.Snapshot, callback subscriptions.Callback) subscriptions.Disposable {
	s.checkOpen("Subscribe")
	return s.subs.Subscribe(snap, callback)
}

// Publish writes the records of src into the current source. Records of src
// are merged field by field, except resolver cache entries which replace
// the stored entry. Records src knows to be absent are deleted. Records
// among invalidatedIDs are stamped with the epoch of the next Notify.
func (s *Store) Publish(ctx context.Context, src record.Source, invalidatedIDs record.IDSet) {
	s.checkOpen("Publish")
	target := s.Source()
	updateTargetFromSource(target, src, s.currentWriteEpoch+1, invalidatedIDs, s.updatedRecordIDs, s.invalidatedRecordIDs)
	eventbus.Publish(ctx, s.bus, events.StorePublish{
		Store:       s.id,
		Records:     src.Size(),
		Invalidated: len(invalidatedIDs),
		Optimistic:  s.optimistic != nil,
	})
}

func updateTargetFromSource(target, src record.Source, epoch int64, invalidatedIDs, updated, invalidated record.IDSet) {
	for id := range invalidatedIDs {
		if src.Status(id) == record.Nonexistent {
			continue
		}
		next := src.Get(id)
		if prev := target.Get(id); prev != nil {
			next = prev
		}
		if next == nil {
			continue
		}
		next = next.Clone()
		next.SetInvalidationEpoch(epoch)
		target.Set(id, next)
		invalidated.Add(id)
	}
	for _, id := range src.IDs() {
		switch src.Status(id) {
		case record.Existent:
			next := src.Get(id)
			prev := target.Get(id)
			switch {
			case prev == nil:
				target.Set(id, next)
				updated.Add(id)
			case next.IsResolver():
				if next != prev {
					target.Set(id, next)
					updated.Add(id)
				}
			default:
				if merged := record.Update(prev, next); merged != prev {
					target.Set(id, merged)
					updated.Add(id)
				}
			}
		case record.Nonexistent:
			target.Delete(id)
			updated.Add(id)
		}
	}
}

// NotifyOptions describe the write being announced.
type NotifyOptions struct {
	// SourceOperation is the operation whose payload was published, if any.
	SourceOperation *selection.Operation
	// InvalidateStore makes every operation written before this point
	// stale.
	InvalidateStore bool
}

// Notify advances the write epoch and updates the subscriptions affected by
// the records published since the last call. It returns the owners of the
// subscriptions that changed.
func (s *Store) Notify(ctx context.Context, opts NotifyOptions) []*selection.RequestDescriptor {
	s.checkOpen("Notify")
	ctx, _ = reqid.Ensure(ctx)
	start := s.opts.clock()
	sourceName := ""
	var sourceOwner *selection.RequestDescriptor
	if opts.SourceOperation != nil {
		sourceOwner = opts.SourceOperation.Request
		sourceName = sourceOwner.Identifier
	}
	eventbus.Publish(ctx, s.bus, events.StoreNotifyStart{
		Store:           s.id,
		SourceOperation: sourceName,
		UpdatedRecords:  len(s.updatedRecordIDs),
		InvalidateStore: opts.InvalidateStore,
	})

	s.currentWriteEpoch++
	if opts.InvalidateStore {
		s.globalInvalidationEpoch = s.currentWriteEpoch
	}
	s.cache.InvalidateDataIDs(s.updatedRecordIDs)

	// Callbacks may publish and notify again.
	updated := s.updatedRecordIDs
	invalidated := s.invalidatedRecordIDs
	s.updatedRecordIDs = record.IDSet{}
	s.invalidatedRecordIDs = record.IDSet{}

	prevCtx := s.notifyCtx
	s.notifyCtx = ctx
	owners := s.subs.UpdateSubscriptions(s.Source(), updated, sourceOwner)
	s.notifyCtx = prevCtx
	s.updateInvalidationSubscriptions(invalidated, opts.InvalidateStore)

	if opts.SourceOperation != nil {
		id := opts.SourceOperation.Request.Identifier
		entry, ok := s.roots[id]
		if !ok {
			entry = &rootEntry{operation: opts.SourceOperation}
			s.roots[id] = entry
		}
		entry.epoch = s.currentWriteEpoch
		entry.fetchTime = s.opts.clock()
	}

	names := make([]string, len(owners))
	for i, o := range owners {
		names[i] = o.Identifier
	}
	eventbus.Publish(ctx, s.bus, events.StoreNotifyFinish{
		Store:           s.id,
		SourceOperation: sourceName,
		UpdatedOwners:   names,
		Duration:        s.opts.clock().Sub(start),
	})
	return owners
}

func (s *Store) subscriptionFired(id string, snap *reader.Snapshot, source *selection.RequestDescriptor) {
	e := events.SubscriptionFired{Store: s.id, Subscription: id}
	if owner := snap.Selector.Owner; owner != nil {
		e.Owner = owner.Identifier
	}
	if source != nil {
		e.Source = source.Identifier
	}
	eventbus.Publish(s.notifyCtx, s.bus, e)
}

// CommitPayload normalizes payload as the response of op, publishes it and
// notifies subscribers.
func (s *Store) CommitPayload(ctx context.Context, op *selection.Operation, payload map[string]any) ([]*selection.RequestDescriptor, error) {
	src := record.NewMapSource()
	opts := s.NormalizationOptions(nil)
	if err := normalize.Normalize(src, op.Root.Node, op.Root.DataID, record.RootType, op.Root.Variables, payload, opts); err != nil {
		return nil, fmt.Errorf("commit %s: %w", op.Request.Name, err)
	}
	s.Publish(ctx, src, nil)
	return s.Notify(ctx, NotifyOptions{SourceOperation: op}), nil
}

// PublishLiveUpdates publishes the cache entries changed by live state
// callbacks and notifies subscribers.
func (s *Store) PublishLiveUpdates(src record.Source) {
	ctx := context.Background()
	eventbus.Publish(ctx, s.bus, events.LiveUpdate{Store: s.id, Records: src.Size()})
	s.Publish(ctx, src, nil)
	s.Notify(ctx, NotifyOptions{})
}

// NotifyUpdatedSubscribers notifies subscribers of ids, which a read
// changed in place, without touching the pending updates of the store.
func (s *Store) NotifyUpdatedSubscribers(ids record.IDSet) {
	pending := s.updatedRecordIDs
	s.updatedRecordIDs = ids.Clone()
	s.Notify(s.notifyCtx, NotifyOptions{})
	s.updatedRecordIDs.AddAll(pending)
}

func (s *Store) NormalizationOptions(path []string) normalize.Options {
	return normalize.Options{TreatMissingFieldsAsNull: s.opts.treatMissingFieldsAsNull, Path: path}
}

// Status is the availability of an operation's data.
type Status int

const (
	Available Status = iota
	Missing
	// Stale data is present but was invalidated or expired since the
	// operation was written.
	Stale
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case Stale:
		return "stale"
	default:
		return "available"
	}
}

type Availability struct {
	Status Status
	// FetchTime is when the operation was last written, zero if unknown.
	FetchTime time.Time
}

type CheckOptions struct {
	Handlers          []checker.MissingFieldHandler
	DefaultActor      string
	GetSourceForActor func(actor string) record.Source
	GetTargetForActor func(actor string) record.Source
}

// Check reports whether op can be fulfilled from the store. Values
// synthesized by missing field handlers are written to the current source
// unless GetTargetForActor says otherwise.
func (s *Store) Check(ctx context.Context, op *selection.Operation, opts CheckOptions) Availability {
	s.checkOpen("Check")
	a := s.check(op, opts)
	eventbus.Publish(ctx, s.bus, events.StoreCheck{Store: s.id, Operation: op.Request.Identifier, Status: a.Status.String()})
	return a
}

func (s *Store) check(op *selection.Operation, opts CheckOptions) Availability {
	var lastWrittenAt int64
	var fetchTime time.Time
	if entry, ok := s.roots[op.Request.Identifier]; ok {
		lastWrittenAt = entry.epoch
		fetchTime = entry.fetchTime
	}
	if s.globalInvalidationEpoch != 0 && lastWrittenAt <= s.globalInvalidationEpoch {
		return Availability{Status: Stale}
	}

	src := s.Source()
	copts := checker.Options{
		GetSourceForActor: opts.GetSourceForActor,
		GetTargetForActor: opts.GetTargetForActor,
		DefaultActor:      opts.DefaultActor,
		Handlers:          opts.Handlers,
		OperationLoader:   s.opts.operationLoader,
	}
	if copts.GetSourceForActor == nil {
		copts.GetSourceForActor = func(string) record.Source { return src }
	}
	if copts.GetTargetForActor == nil {
		copts.GetTargetForActor = func(string) record.Source { return src }
	}
	if copts.DefaultActor == "" {
		copts.DefaultActor = DefaultActor
	}
	a := checker.Check(op.Root, copts)

	if a.Invalidated && (lastWrittenAt == 0 || a.MostRecentlyInvalidatedAt > lastWrittenAt) {
		return Availability{Status: Stale}
	}
	if a.Status == checker.Missing {
		return Availability{Status: Missing}
	}
	if !fetchTime.IsZero() && s.opts.queryCacheExpiration > 0 {
		if !fetchTime.After(s.opts.clock().Add(-s.opts.queryCacheExpiration)) {
			return Availability{Status: Stale}
		}
	}
	return Availability{Status: Available, FetchTime: fetchTime}
}

// Retain keeps the bookkeeping of op alive until the returned function is
// called. Calls are counted, and disposing more than once is a no-op.
func (s *Store) Retain(op *selection.Operation) (dispose func()) {
	id := op.Request.Identifier
	entry, ok := s.roots[id]
	if !ok {
		entry = &rootEntry{}
		s.roots[id] = entry
	}
	entry.operation = op
	entry.refCount++
	disposed := false
	return func() {
		if disposed {
			return
		}
		disposed = true
		entry, ok := s.roots[id]
		if !ok {
			return
		}
		entry.refCount--
		if entry.refCount > 0 {
			return
		}
		entry.refCount = 0
		// Written operations keep their epoch and fetch time for Check.
		if entry.epoch == 0 {
			delete(s.roots, id)
		}
	}
}

// Snapshot starts an optimistic transaction: later writes go to an overlay
// that Restore discards.
func (s *Store) Snapshot() {
	s.checkOpen("Snapshot")
	if s.optimistic != nil {
		panic("store: unexpected call to Snapshot while a previous snapshot exists")
	}
	eventbus.Publish(context.Background(), s.bus, events.StoreSnapshot{Store: s.id})
	s.subs.SnapshotSubscriptions(s.recordSource)
	s.optimistic = record.NewOptimisticSource(s.recordSource)
}

// Restore drops the overlay started by Snapshot. Subscriptions that read
// optimistic data are re-read on the next Notify.
func (s *Store) Restore() {
	s.checkOpen("Restore")
	if s.optimistic == nil {
		panic("store: unexpected call to Restore, expected a snapshot to exist")
	}
	eventbus.Publish(context.Background(), s.bus, events.StoreRestore{Store: s.id})
	if s.live != nil {
		overlay := record.IDSet{}
		for id := range s.optimistic.OptimisticIDs() {
			if s.optimistic.Get(id) != s.recordSource.Get(id) {
				overlay.Add(id)
			}
		}
		s.live.UnsubscribeFromLiveResolverRecords(overlay)
	}
	s.optimistic = nil
	s.subs.RestoreSubscriptions()
}

// Evict forgets ids. Subscriptions reading them see missing data after the
// next Notify.
func (s *Store) Evict(ids record.IDSet) {
	s.checkOpen("Evict")
	if s.live != nil {
		s.live.UnsubscribeFromLiveResolverRecords(ids)
	}
	target := s.Source()
	for id := range ids {
		target.Remove(id)
		s.updatedRecordIDs.Add(id)
	}
}

// BatchLiveStateUpdates runs fn and publishes the live state changes it
// causes with a single Notify.
func (s *Store) BatchLiveStateUpdates(fn func()) {
	s.liveCache("BatchLiveStateUpdates").BatchLiveStateUpdates(fn)
}

// LiveResolverPromise returns a channel closed when the live state behind
// the suspended resolver entry id changes.
func (s *Store) LiveResolverPromise(id record.DataID) <-chan struct{} {
	return s.liveCache("LiveResolverPromise").LiveResolverPromise(id)
}

func (s *Store) liveCache(op string) *resolvercache.LiveCache {
	if s.live == nil {
		panic(fmt.Sprintf("store: %s needs live resolvers to be enabled", op))
	}
	return s.live
}

// Dispose unsubscribes every live state and drops all subscriptions. The
// store must not be used afterwards.
func (s *Store) Dispose() {
	if s.disposed {
		return
	}
	if s.live != nil {
		ids := record.IDSet{}
		for _, id := range s.Source().IDs() {
			if rec := s.Source().Get(id); rec != nil && rec.IsResolver() {
				ids.Add(id)
			}
		}
		s.live.UnsubscribeFromLiveResolverRecords(ids)
	}
	if n := s.subs.Size(); n > 0 {
		glog.V(1).Infof("store %s: disposing with %d active subscriptions", s.id, n)
	}
	s.subs = subscriptions.New(nil)
	s.invalidationSubs = nil
	s.roots = map[string]*rootEntry{}
	s.disposed = true
}
