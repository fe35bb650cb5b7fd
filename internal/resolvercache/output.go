package resolvercache

import (
	"fmt"
	"strconv"

	"github.com/hanpama/graphcache/internal/normalize"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

// setValue stores value on entry. Output type values are turned into
// records first and the entry keeps their ids. It returns the ids of
// records that changed in the source.
func (c *LiveCache) setValue(entry *record.Record, value any, field *selection.ResolverField, vars map[string]any) record.IDSet {
	if value == nil || field.Output == nil {
		entry.Set(valueKey, value)
		return nil
	}
	ids, next, err := c.normalizeOutput(entry.ID(), value, field, vars)
	if err != nil {
		setError(entry, err)
		entry.Set(valueKey, nil)
		return nil
	}
	updated := updateCurrentSource(c.source(), next, outputIDs(entry))
	entry.Set(outputIDsKey, record.NewIDSet(next.IDs()...))
	entry.Set(valueKey, ids)
	return updated
}

func outputIDs(entry *record.Record) record.IDSet {
	v, _ := entry.Raw(outputIDsKey)
	ids, _ := v.(record.IDSet)
	return ids
}

// normalizeOutput writes value into a fresh source. The returned value is
// the id of the output record, or a list of ids for plural outputs.
func (c *LiveCache) normalizeOutput(entryID record.DataID, value any, field *selection.ResolverField, vars map[string]any) (any, *record.MapSource, error) {
	out := field.Output
	next := record.NewMapSource()
	node := &selection.Fragment{Name: field.Name, Type: out.ConcreteType, Selections: out.Selections}

	if !out.Plural {
		typename, err := outputTypename(out, value, field.Path)
		if err != nil {
			return nil, nil, err
		}
		id := record.ClientObjectID(typename, entryID)
		if err := c.normalizeOutputValue(out.Kind, next, node, id, typename, value, vars, []string{field.Path}); err != nil {
			return nil, nil, err
		}
		return id, next, nil
	}

	items, ok := value.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("resolver %s: expected a list for a plural output type, got %T", field.Path, value)
	}
	ids := make([]any, 0, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		typename, err := outputTypename(out, item, field.Path)
		if err != nil {
			return nil, nil, err
		}
		id := record.ClientObjectID(typename, entryID, i)
		if err := c.normalizeOutputValue(out.Kind, next, node, id, typename, item, vars, []string{field.Path, strconv.Itoa(i)}); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	return ids, next, nil
}

func (c *LiveCache) normalizeOutputValue(kind selection.OutputKind, next *record.MapSource, node *selection.Fragment, id record.DataID, typename string, value any, vars map[string]any, path []string) error {
	switch kind {
	case selection.WeakModel:
		rec := record.New(id, typename)
		rec.Set(ModelInstanceKey, value)
		next.Set(id, rec)
		return nil
	case selection.OutputType:
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("resolver %s: expected an object for an output type, got %T", path[0], value)
		}
		return normalize.Normalize(next, node, id, typename, vars, obj, c.store.NormalizationOptions(path))
	default:
		panic(fmt.Sprintf("resolvercache: unexpected output kind %d", kind))
	}
}

func outputTypename(out *selection.ResolverOutput, value any, path string) (string, error) {
	if out.ConcreteType != "" {
		return out.ConcreteType, nil
	}
	if obj, ok := value.(map[string]any); ok {
		if t, ok := obj[record.TypenameKey].(string); ok && t != "" {
			return t, nil
		}
	}
	return "", fmt.Errorf("resolver %s: an abstract output type must carry a __typename", path)
}

// updateCurrentSource applies next onto current. Records of the previous
// output that next no longer has are removed; surviving ones are merged.
// Cache entries linked from a changed record are invalidated.
func updateCurrentSource(current record.Source, next *record.MapSource, prev record.IDSet) record.IDSet {
	updated := record.IDSet{}
	for id := range prev {
		if !next.Has(id) {
			updated.Add(id)
			current.Remove(id)
		}
	}
	for _, id := range next.IDs() {
		nextRec := next.Get(id)
		cur := current.Get(id)
		if cur == nil {
			current.Set(id, nextRec)
			continue
		}
		if merged := record.Update(cur, nextRec); merged != cur {
			updated.Add(id)
			current.Set(id, merged)
			markLinkedEntriesInvalid(cur, current)
		}
	}
	return updated
}
