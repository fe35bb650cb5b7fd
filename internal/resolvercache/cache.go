// Package resolvercache memoizes resolver values as records in the store's
// source, invalidates them when their inputs change and keeps live
// resolvers subscribed to their external state.
package resolvercache

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/recycle"
	"github.com/hanpama/graphcache/internal/selection"
)

// Keys of the bookkeeping fields stored on cache entries.
const (
	valueKey         = "__resolverValue"
	snapshotKey      = "__resolverSnapshot"
	errorKey         = "__resolverError"
	invalidKey       = "__resolverValueMayBeInvalid"
	outputIDsKey     = "__resolverOutputTypeRecordIDs"
	liveStateKey     = "__resolverLiveStateValue"
	subscriptionKey  = "__resolverLiveStateSubscription"
	dirtyKey         = "__resolverLiveStateDirty"
	suspendedKey     = "__resolverSuspended"
	ModelInstanceKey = "__model_instance"
)

// RecordCache stores the values of non-live resolvers in the record source.
type RecordCache struct {
	source func() record.Source
	graph  *graph
}

var _ reader.ResolverCache = (*RecordCache)(nil)

// NewRecordCache creates a cache writing into whatever source returns at
// the time of each call.
func NewRecordCache(source func() record.Source) *RecordCache {
	return &RecordCache{source: source, graph: newGraph()}
}

func (c *RecordCache) ReadFromCacheOrEvaluate(
	recordID record.DataID,
	field *selection.ResolverField,
	vars map[string]any,
	evaluate func() reader.Evaluation,
	getData func(selection.Selector) *reader.Snapshot,
) reader.CacheResult {
	if field.Live {
		panic(fmt.Sprintf("resolvercache: live resolver %s needs a live resolver cache", field.Path))
	}
	if field.Output != nil {
		panic(fmt.Sprintf("resolvercache: output type of resolver %s needs a live resolver cache", field.Path))
	}
	src := c.source()
	key := field.Key(vars)
	entryID, entry := lookupEntry(src, recordID, key)
	if entry == nil || isInvalid(src, entry, getData) {
		if entryID == "" {
			entryID = record.ClientID(recordID, key)
		}
		entry = record.New(entryID, record.ResolverTypename)
		ev := evaluate()
		setSnapshot(entry, ev.Snapshot)
		value, undefined, err := reader.OutcomeValue(field, ev.Outcome)
		setError(entry, err)
		if !undefined {
			entry.Set(valueKey, value)
		}
		src.Set(entryID, entry)
		linkEntry(src, recordID, key, entryID)
		c.graph.track(recordID, field, vars, entryID, ev.Snapshot)
	}
	return entryResult(entryID, entry)
}

func (c *RecordCache) InvalidateDataIDs(ids record.IDSet) {
	c.graph.invalidate(c.source(), ids)
}

func (c *RecordCache) EnsureClientRecord(record.DataID, string) record.DataID {
	panic("resolvercache: client edges to client objects need a live resolver cache")
}

func (c *RecordCache) NotifyUpdatedSubscribers(record.IDSet) {
	panic("resolvercache: output type records need a live resolver cache")
}

func expectRecord(src record.Source, id record.DataID) *record.Record {
	rec := src.Get(id)
	if rec == nil {
		panic(fmt.Sprintf("resolvercache: expected a record with id %s to exist in the record source", id))
	}
	return rec
}

// lookupEntry returns the entry linked from recordID under key. The id is
// returned even when the entry itself is gone so it can be reused.
func lookupEntry(src record.Source, recordID record.DataID, key string) (record.DataID, *record.Record) {
	rec := expectRecord(src, recordID)
	id, ok := rec.LinkedID(key)
	if !ok || id == "" {
		return "", nil
	}
	return id, src.Get(id)
}

// linkEntry points the parent record at its entry.
func linkEntry(src record.Source, recordID record.DataID, key string, entryID record.DataID) {
	next := expectRecord(src, recordID).Clone()
	next.SetLinkedID(key, entryID)
	src.Set(recordID, next)
}

// isInvalid reports whether an entry flagged as possibly stale has to be
// evaluated again. When the resolver's inputs read the same as before the
// flag is cleared instead.
func isInvalid(src record.Source, entry *record.Record, getData func(selection.Selector) *reader.Snapshot) bool {
	if !flag(entry, invalidKey) {
		return false
	}
	snap := entrySnapshot(entry)
	if snap == nil || snap.Data == nil {
		glog.Warningf("resolvercache: expected previous inputs and a reader selector on resolver record %s, but they were missing", entry.ID())
		return true
	}
	latest := getData(snap.Selector)
	if !recycle.Same(recycle.Nodes(snap.Data, latest.Data), snap.Data) {
		return true
	}
	next := entry.Clone()
	next.Set(invalidKey, false)
	src.Set(entry.ID(), next)
	return false
}

func entryResult(id record.DataID, entry *record.Record) reader.CacheResult {
	v, ok := entry.Raw(valueKey)
	res := reader.CacheResult{
		Value:     v,
		Undefined: !ok,
		RecordID:  id,
		Err:       entryError(entry),
		Snapshot:  entrySnapshot(entry),
	}
	if flag(entry, suspendedKey) {
		res.SuspenseID = id
	}
	return res
}

func flag(rec *record.Record, key string) bool {
	v, _ := rec.Raw(key)
	b, _ := v.(bool)
	return b
}

func entrySnapshot(rec *record.Record) *reader.Snapshot {
	v, _ := rec.Raw(snapshotKey)
	s, _ := v.(*reader.Snapshot)
	return s
}

func setSnapshot(rec *record.Record, s *reader.Snapshot) {
	if s == nil {
		rec.Unset(snapshotKey)
		return
	}
	rec.Set(snapshotKey, s)
}

func entryError(rec *record.Record) error {
	v, _ := rec.Raw(errorKey)
	err, _ := v.(error)
	return err
}

func setError(rec *record.Record, err error) {
	if err == nil {
		rec.Unset(errorKey)
		return
	}
	rec.Set(errorKey, err)
}
