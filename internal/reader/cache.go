package reader

import (
	"fmt"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/resolver"
	"github.com/hanpama/graphcache/internal/selection"
)

// Evaluation is the result of running a resolver once.
type Evaluation struct {
	Outcome resolver.Outcome
	// Snapshot is the read of the resolver's fragment, nil when it has none.
	Snapshot *Snapshot
}

// CacheResult is what a ResolverCache hands back to the reader.
type CacheResult struct {
	Value any
	// Undefined is set when the resolver produced no value because its
	// inputs were missing.
	Undefined bool
	// RecordID is the cache entry that holds the value, if any.
	RecordID record.DataID
	Err      error
	Snapshot *Snapshot
	// SuspenseID is the cache entry of a live field that asked to suspend.
	SuspenseID record.DataID
	UpdatedIDs record.IDSet
}

// ResolverCache memoizes resolver values on behalf of the reader.
type ResolverCache interface {
	ReadFromCacheOrEvaluate(
		recordID record.DataID,
		field *selection.ResolverField,
		vars map[string]any,
		evaluate func() Evaluation,
		getData func(selection.Selector) *Snapshot,
	) CacheResult
	// InvalidateDataIDs marks entries depending on ids as invalid and adds
	// the invalidated entries to ids.
	InvalidateDataIDs(ids record.IDSet)
	// EnsureClientRecord returns the id of the client object of typename
	// identified by id, creating it if needed.
	EnsureClientRecord(id record.DataID, typename string) record.DataID
	NotifyUpdatedSubscribers(ids record.IDSet)
}

// NoopCache evaluates every resolver on each read.
type NoopCache struct{}

func (NoopCache) ReadFromCacheOrEvaluate(
	_ record.DataID,
	field *selection.ResolverField,
	_ map[string]any,
	evaluate func() Evaluation,
	_ func(selection.Selector) *Snapshot,
) CacheResult {
	if field.Live {
		panic(fmt.Sprintf("reader: live resolver %s needs a live resolver cache", field.Path))
	}
	ev := evaluate()
	v, undefined, err := OutcomeValue(field, ev.Outcome)
	return CacheResult{Value: v, Undefined: undefined, Err: err, Snapshot: ev.Snapshot}
}

func (NoopCache) InvalidateDataIDs(record.IDSet) {}

func (NoopCache) EnsureClientRecord(record.DataID, string) record.DataID {
	panic("reader: client edges to client objects need a resolver cache")
}

func (NoopCache) NotifyUpdatedSubscribers(record.IDSet) {}

// OutcomeValue unpacks the outcome of a non-live resolver.
func OutcomeValue(field *selection.ResolverField, o resolver.Outcome) (value any, undefined bool, err error) {
	switch o.Kind() {
	case resolver.KindValue:
		return o.Value(), false, nil
	case resolver.KindMissing, resolver.KindSuspend:
		return nil, true, nil
	case resolver.KindError:
		return nil, false, o.Err()
	case resolver.KindLive:
		panic(fmt.Sprintf("reader: unexpected live state returned from non-live resolver %s", field.Path))
	default:
		panic(fmt.Sprintf("reader: unexpected resolver outcome %v", o.Kind()))
	}
}
