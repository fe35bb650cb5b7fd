package checker

import (
	"github.com/hanpama/graphcache/internal/mutator"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

type HandlerKind int

const (
	ScalarHandler HandlerKind = iota
	LinkedHandler
	PluralLinkedHandler
)

// MissingFieldHandler can supply a value for a field the source does not
// have. Only the function matching Kind is called. Each returns ok false
// when it has nothing to offer; the record passed in is nil when the parent
// record is not in the source.
//
// Linked returns "" with ok true for null. PluralLinked returns a nil slice
// with ok true for null.
type MissingFieldHandler struct {
	Kind         HandlerKind
	Scalar       func(f *selection.ScalarField, rec *record.Record, args map[string]any, proxy *mutator.Mutator) (any, bool)
	Linked       func(f *selection.LinkedField, rec *record.Record, args map[string]any, proxy *mutator.Mutator) (record.DataID, bool)
	PluralLinked func(f *selection.LinkedField, rec *record.Record, args map[string]any, proxy *mutator.Mutator) ([]record.DataID, bool)
}

func (c *checker) handleMissingScalar(f *selection.ScalarField, id record.DataID) (any, bool) {
	if f.Name == "id" && f.Alias == "" && record.IsClientID(id) {
		return nil, false
	}
	args := selection.ArgumentValues(f.Args, c.vars)
	for _, h := range c.opts.Handlers {
		if h.Kind != ScalarHandler || h.Scalar == nil {
			continue
		}
		if v, ok := h.Scalar(f, c.mutator.Get(id), args, c.mutator); ok {
			return v, true
		}
	}
	c.recordWasMissing = true
	return nil, false
}

func (c *checker) handleMissingLink(f *selection.LinkedField, id record.DataID) (record.DataID, bool) {
	args := selection.ArgumentValues(f.Args, c.vars)
	for _, h := range c.opts.Handlers {
		if h.Kind != LinkedHandler || h.Linked == nil {
			continue
		}
		linked, ok := h.Linked(f, c.mutator.Get(id), args, c.mutator)
		if ok && (linked == "" || c.mutator.Status(linked) == record.Existent) {
			return linked, true
		}
	}
	c.recordWasMissing = true
	return "", false
}

func (c *checker) handleMissingPluralLink(f *selection.LinkedField, id record.DataID) ([]record.DataID, bool) {
	args := selection.ArgumentValues(f.Args, c.vars)
	for _, h := range c.opts.Handlers {
		if h.Kind != PluralLinkedHandler || h.PluralLinked == nil {
			continue
		}
		linked, ok := h.PluralLinked(f, c.mutator.Get(id), args, c.mutator)
		if !ok {
			continue
		}
		if linked == nil {
			return nil, true
		}
		if c.allExist(linked) {
			return linked, true
		}
	}
	c.recordWasMissing = true
	return nil, false
}

func (c *checker) allExist(ids []record.DataID) bool {
	for _, id := range ids {
		if id == "" || c.mutator.Status(id) != record.Existent {
			return false
		}
	}
	return true
}
