package store

import (
	"maps"

	"github.com/hanpama/graphcache/internal/record"
)

// InvalidationState captures the invalidation epochs of a set of records
// and of the whole store at one point in time.
type InvalidationState struct {
	DataIDs []record.DataID
	epochs  map[record.DataID]int64
	global  int64
}

type invalidationSubscription struct {
	state    InvalidationState
	callback func()
}

// LookupInvalidationState records the current invalidation epochs of ids.
func (s *Store) LookupInvalidationState(ids []record.DataID) InvalidationState {
	src := s.Source()
	epochs := make(map[record.DataID]int64, len(ids))
	for _, id := range ids {
		var epoch int64
		if rec := src.Get(id); rec != nil {
			if at, ok := rec.InvalidationEpoch(); ok {
				epoch = at
			}
		}
		epochs[id] = epoch
	}
	return InvalidationState{DataIDs: ids, epochs: epochs, global: s.globalInvalidationEpoch}
}

// CheckInvalidationState reports whether any record of prev, or the store
// as a whole, was invalidated since prev was looked up.
func (s *Store) CheckInvalidationState(prev InvalidationState) bool {
	latest := s.LookupInvalidationState(prev.DataIDs)
	return latest.global != prev.global || !maps.Equal(latest.epochs, prev.epochs)
}

// SubscribeToInvalidationState calls callback when a Notify announces the
// invalidation of a record of state or of the whole store.
func (s *Store) SubscribeToInvalidationState(state InvalidationState, callback func()) (dispose func()) {
	sub := &invalidationSubscription{state: state, callback: callback}
	s.invalidationSubs = append(s.invalidationSubs, sub)
	return func() {
		for i, other := range s.invalidationSubs {
			if other == sub {
				s.invalidationSubs = append(s.invalidationSubs[:i:i], s.invalidationSubs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) updateInvalidationSubscriptions(invalidated record.IDSet, invalidateStore bool) {
	for _, sub := range append([]*invalidationSubscription(nil), s.invalidationSubs...) {
		if invalidateStore || sub.touches(invalidated) {
			sub.callback()
		}
	}
}

func (sub *invalidationSubscription) touches(invalidated record.IDSet) bool {
	for _, id := range sub.state.DataIDs {
		if invalidated.Has(id) {
			return true
		}
	}
	return false
}
