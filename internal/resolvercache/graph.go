package resolvercache

import (
	"github.com/golang/glog"

	"github.com/hanpama/graphcache/internal/reader"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

// graph tracks which cache entries depend on which records.
//
// A resolver id names one resolver fragment read on one parent record. Every
// record seen while reading that fragment points at the resolver id, and the
// resolver id points at the entries computed from it. Entries are records
// themselves, so a resolver reading another resolver's field chains through
// the entry id.
type graph struct {
	entries   map[record.DataID]record.IDSet // resolver id -> entry ids
	resolvers map[record.DataID]record.IDSet // record id -> resolver ids
}

func newGraph() *graph {
	return &graph{
		entries:   map[record.DataID]record.IDSet{},
		resolvers: map[record.DataID]record.IDSet{},
	}
}

func addEdge(edges map[record.DataID]record.IDSet, from, to record.DataID) {
	set, ok := edges[from]
	if !ok {
		set = record.IDSet{}
		edges[from] = set
	}
	set.Add(to)
}

// track records the dependencies of the entry entryID computed for field on
// recordID. Resolvers without a fragment have no inputs to depend on.
func (g *graph) track(recordID record.DataID, field *selection.ResolverField, vars map[string]any, entryID record.DataID, snap *reader.Snapshot) {
	if field.Fragment == nil {
		return
	}
	resolverID := record.ClientID(recordID, field.FragmentKey(vars))
	addEdge(g.entries, resolverID, entryID)
	addEdge(g.resolvers, recordID, resolverID)
	if snap == nil {
		return
	}
	for seen := range snap.SeenRecords {
		addEdge(g.resolvers, seen, resolverID)
	}
}

// invalidate marks every entry reachable from ids as invalid and adds the
// visited ids, entries included, to ids. Entries no longer in src are
// dropped from the graph.
func (g *graph) invalidate(src record.Source, ids record.IDSet) {
	stack := make([]record.DataID, 0, len(ids))
	for id := range ids {
		stack = append(stack, id)
	}
	visitedRecords := record.IDSet{}
	visitedResolvers := record.IDSet{}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visitedRecords.Has(id) {
			continue
		}
		visitedRecords.Add(id)
		ids.Add(id)

		for resolverID := range g.resolvers[id] {
			if visitedResolvers.Has(resolverID) {
				continue
			}
			visitedResolvers.Add(resolverID)
			entries := g.entries[resolverID]
			for entryID := range entries {
				if !markInvalid(src, entryID) {
					delete(entries, entryID)
					continue
				}
				if !visitedRecords.Has(entryID) {
					stack = append(stack, entryID)
				}
			}
			if len(entries) == 0 {
				delete(g.entries, resolverID)
			}
		}
	}
}

// markInvalid flags the entry id as possibly stale. It reports false when
// the entry is gone.
func markInvalid(src record.Source, id record.DataID) bool {
	rec := src.Get(id)
	if rec == nil {
		glog.Warningf("resolvercache: expected a resolver record with id %s, but it was missing", id)
		return false
	}
	next := rec.Clone()
	next.Set(invalidKey, true)
	src.Set(id, next)
	return true
}

// markLinkedEntriesInvalid flags every cache entry rec links to.
func markLinkedEntriesInvalid(rec *record.Record, src record.Source) {
	for _, key := range rec.Keys() {
		raw, _ := rec.Raw(key)
		var linked []record.DataID
		switch l := raw.(type) {
		case record.Link:
			linked = []record.DataID{l.ID}
		case record.PluralLink:
			linked = l.IDs
		}
		for _, id := range linked {
			if id == "" {
				continue
			}
			if r := src.Get(id); r != nil && r.IsResolver() {
				markInvalid(src, id)
			}
		}
	}
}
