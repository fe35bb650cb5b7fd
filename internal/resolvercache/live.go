package resolvercache

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/hanpama/graphcache/internal/normalize"
	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/resolver"
	"github.com/hanpama/graphcache/internal/selection"
)

// Store is the part of the store a LiveCache writes back to.
type Store interface {
	// PublishLiveUpdates publishes src into the store and notifies
	// subscribers of the change.
	PublishLiveUpdates(src record.Source)
	// NotifyUpdatedSubscribers notifies subscribers of records changed
	// while reading, without publishing.
	NotifyUpdatedSubscribers(ids record.IDSet)
	// NormalizationOptions configures how resolver output objects found at
	// path are normalized.
	NormalizationOptions(path []string) normalize.Options
}

// LiveCache is a resolver cache that also supports live resolvers, client
// edges to client objects and resolvers returning output types.
//
// Live state callbacks only mark entries dirty and publish them; the value
// is read again on the next read of the field. Callbacks must run on the
// goroutine that owns the store.
type LiveCache struct {
	source func() record.Source
	store  Store
	graph  *graph

	handlingBatch bool
	batch         *record.MapSource
}

var _ reader.ResolverCache = (*LiveCache)(nil)

func NewLiveCache(source func() record.Source, store Store) *LiveCache {
	return &LiveCache{source: source, store: store, graph: newGraph()}
}

func (c *LiveCache) ReadFromCacheOrEvaluate(
	recordID record.DataID,
	field *selection.ResolverField,
	vars map[string]any,
	evaluate func() reader.Evaluation,
	getData func(selection.Selector) *reader.Snapshot,
) reader.CacheResult {
	src := c.source()
	key := field.Key(vars)
	entryID, entry := lookupEntry(src, recordID, key)

	var updated record.IDSet
	switch {
	case entry == nil || isInvalid(src, entry, getData):
		if entry != nil {
			unsubscribe(entry)
		}
		if entryID == "" {
			entryID = record.ClientID(recordID, key)
		}
		entry = record.New(entryID, record.ResolverTypename)
		ev := evaluate()
		setSnapshot(entry, ev.Snapshot)
		if field.Live {
			updated = c.setLiveOutcome(entry, ev.Outcome, field, vars)
		} else {
			value, undefined, err := reader.OutcomeValue(field, ev.Outcome)
			setError(entry, err)
			if !undefined {
				updated = c.setValue(entry, value, field, vars)
			}
		}
		src.Set(entryID, entry)
		linkEntry(src, recordID, key, entryID)
		c.graph.track(recordID, field, vars, entryID, ev.Snapshot)

	case field.Live && flag(entry, dirtyKey):
		entry = entry.Clone()
		state, ok := liveState(entry)
		if !ok {
			panic(fmt.Sprintf("resolvercache: live resolver record %s for field %s has no live state", entryID, field.Path))
		}
		updated = c.readLiveState(entry, state, field, vars)
		entry.Set(dirtyKey, false)
		src.Set(entryID, entry)
	}

	res := entryResult(entryID, entry)
	res.UpdatedIDs = updated
	return res
}

// setLiveOutcome handles the first evaluation of a live resolver.
func (c *LiveCache) setLiveOutcome(entry *record.Record, o resolver.Outcome, field *selection.ResolverField, vars map[string]any) record.IDSet {
	switch o.Kind() {
	case resolver.KindLive:
		state := o.LiveState()
		entry.Set(subscriptionKey, state.Subscribe(c.liveStateHandler(entry.ID())))
		entry.Set(liveStateKey, state)
		updated := c.readLiveState(entry, state, field, vars)
		entry.Set(dirtyKey, false)
		return updated
	case resolver.KindMissing:
		return nil
	case resolver.KindError:
		setError(entry, o.Err())
		entry.Set(valueKey, nil)
		return nil
	default:
		panic(fmt.Sprintf("resolvercache: expected the live resolver %s to return a live state, got %v", field.Path, o.Kind()))
	}
}

// readLiveState stores the current value of state on entry.
func (c *LiveCache) readLiveState(entry *record.Record, state resolver.LiveState, field *selection.ResolverField, vars map[string]any) record.IDSet {
	o := readState(field, state)
	entry.Unset(errorKey)
	entry.Unset(suspendedKey)
	switch o.Kind() {
	case resolver.KindValue:
		return c.setValue(entry, o.Value(), field, vars)
	case resolver.KindSuspend:
		entry.Set(suspendedKey, true)
		entry.Unset(valueKey)
	case resolver.KindMissing:
		entry.Unset(valueKey)
	case resolver.KindError:
		setError(entry, o.Err())
		entry.Set(valueKey, nil)
	default:
		panic(fmt.Sprintf("resolvercache: live state of %s returned %v", field.Path, o.Kind()))
	}
	return nil
}

func readState(field *selection.ResolverField, state resolver.LiveState) (o resolver.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = resolver.Fail(fmt.Errorf("live state of %s panicked: %v", field.Path, p))
		}
	}()
	return state.Read()
}

func liveState(entry *record.Record) (resolver.LiveState, bool) {
	v, _ := entry.Raw(liveStateKey)
	s, ok := v.(resolver.LiveState)
	return s, ok && s != nil
}

func unsubscribe(entry *record.Record) {
	v, _ := entry.Raw(subscriptionKey)
	if fn, ok := v.(func()); ok && fn != nil {
		fn()
	}
}

func (c *LiveCache) liveStateHandler(entryID record.DataID) func() {
	return func() {
		cur := c.source().Get(entryID)
		if cur == nil {
			return
		}
		if _, ok := liveState(cur); !ok {
			glog.Warningf("resolvercache: unexpected callback for incomplete live resolver record %s, it has no live state", entryID)
			return
		}
		next := cur.Clone()
		next.Set(dirtyKey, true)
		c.setLiveUpdate(next)
	}
}

func (c *LiveCache) setLiveUpdate(rec *record.Record) {
	if c.handlingBatch {
		if c.batch == nil {
			c.batch = record.NewMapSource()
		}
		c.batch.Set(rec.ID(), rec)
		return
	}
	c.store.PublishLiveUpdates(record.NewMapSource(rec))
}

// BatchLiveStateUpdates runs fn and publishes every live state change it
// triggers at once.
func (c *LiveCache) BatchLiveStateUpdates(fn func()) {
	if c.handlingBatch {
		panic("resolvercache: unexpected nested call to BatchLiveStateUpdates")
	}
	c.handlingBatch = true
	defer func() {
		batch := c.batch
		c.batch = nil
		c.handlingBatch = false
		if batch != nil {
			c.store.PublishLiveUpdates(batch)
		}
	}()
	fn()
}

// LiveResolverPromise returns a channel closed the next time the live
// state of entry id changes.
func (c *LiveCache) LiveResolverPromise(id record.DataID) <-chan struct{} {
	rec := c.source().Get(id)
	if rec == nil {
		panic(fmt.Sprintf("resolvercache: expected to find a record for live resolver %s", id))
	}
	state, ok := liveState(rec)
	if !ok {
		panic(fmt.Sprintf("resolvercache: record %s has no live state", id))
	}

	done := make(chan struct{})
	var (
		mu     sync.Mutex
		fired  bool
		cancel func()
	)
	u := state.Subscribe(func() {
		mu.Lock()
		defer mu.Unlock()
		if fired {
			return
		}
		fired = true
		close(done)
		if cancel != nil {
			cancel()
		}
	})
	mu.Lock()
	cancel = u
	if fired {
		u()
	}
	mu.Unlock()
	return done
}

func (c *LiveCache) InvalidateDataIDs(ids record.IDSet) {
	c.graph.invalidate(c.source(), ids)
}

// EnsureClientRecord returns the id of the client object typename:id,
// creating the record on first use.
func (c *LiveCache) EnsureClientRecord(id record.DataID, typename string) record.DataID {
	key := record.ClientObjectID(typename, id)
	src := c.source()
	if !src.Has(key) {
		rec := record.New(key, typename)
		rec.Set("id", id)
		src.Set(key, rec)
	}
	return key
}

func (c *LiveCache) NotifyUpdatedSubscribers(ids record.IDSet) {
	c.store.NotifyUpdatedSubscribers(ids)
}

// UnsubscribeFromLiveResolverRecords drops the live state subscriptions of
// the cache entries among ids.
func (c *LiveCache) UnsubscribeFromLiveResolverRecords(ids record.IDSet) {
	src := c.source()
	for id := range ids {
		if rec := src.Get(id); rec != nil && rec.IsResolver() {
			unsubscribe(rec)
		}
	}
}

// InvalidateResolverRecords deletes the cache entries among ids so they are
// evaluated again on the next read.
func (c *LiveCache) InvalidateResolverRecords(ids record.IDSet) {
	src := c.source()
	for id := range ids {
		if rec := src.Get(id); rec != nil && rec.IsResolver() {
			src.Delete(id)
		}
	}
}
