// Package normalize writes a JSON-shaped payload into flat records
// following a selection tree.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

// ErrorsKey holds the field errors of a payload object, keyed by response
// key.
const ErrorsKey = "__errors"

type Options struct {
	// TreatMissingFieldsAsNull stores null for selected fields absent from
	// the payload instead of leaving them undefined.
	TreatMissingFieldsAsNull bool
	// Path prefixes the location reported in errors.
	Path []string
	// GetDataID picks the id of a payload object. The default uses a string
	// "id" field.
	GetDataID func(value map[string]any, typename string) (record.DataID, bool)
}

// Normalize writes payload into src as the record id, creating it when src
// does not have it yet. typename is used for a new root record when the
// payload has no __typename.
func Normalize(src record.Source, node *selection.Fragment, id record.DataID, typename string, vars map[string]any, payload map[string]any, opts Options) error {
	if vars == nil {
		vars = map[string]any{}
	}
	if opts.GetDataID == nil {
		opts.GetDataID = defaultDataID
	}
	n := &normalizer{
		src:      src,
		vars:     vars,
		opts:     opts,
		path:     append([]string(nil), opts.Path...),
		writable: map[record.DataID]*record.Record{},
	}
	if t, ok := payload[record.TypenameKey].(string); ok {
		typename = t
	}
	rec := n.ensure(id, typename)
	return n.traverseSelections(node.Selections, rec, payload)
}

func defaultDataID(value map[string]any, _ string) (record.DataID, bool) {
	id, ok := value["id"].(string)
	return id, ok && id != ""
}

type normalizer struct {
	src      record.Source
	vars     map[string]any
	opts     Options
	path     []string
	writable map[record.DataID]*record.Record
}

func (n *normalizer) errorf(format string, args ...any) error {
	return fmt.Errorf("normalize %s: %s", strings.Join(n.path, "."), fmt.Sprintf(format, args...))
}

// ensure returns a writable record for id, cloning what src already has.
// A record is cloned once per normalization.
func (n *normalizer) ensure(id record.DataID, typename string) *record.Record {
	if rec, ok := n.writable[id]; ok {
		if typename != "" && rec.Typename() != typename {
			rec.Set(record.TypenameKey, typename)
		}
		return rec
	}
	var rec *record.Record
	if prev := n.src.Get(id); prev != nil {
		rec = prev.Clone()
		if typename != "" && prev.Typename() != typename {
			rec.Set(record.TypenameKey, typename)
		}
	} else {
		rec = record.New(id, typename)
	}
	n.src.Set(id, rec)
	n.writable[id] = rec
	return rec
}

func (n *normalizer) traverseSelections(sels []selection.Selection, rec *record.Record, data map[string]any) error {
	for _, sel := range sels {
		if err := n.normalizeSelection(sel, rec, data); err != nil {
			return err
		}
	}
	return nil
}

func (n *normalizer) normalizeSelection(sel selection.Selection, rec *record.Record, data map[string]any) error {
	switch s := sel.(type) {
	case *selection.ScalarField:
		return n.normalizeScalar(s, rec, data)
	case *selection.LinkedField:
		return n.normalizeLink(s, rec, data)
	case *selection.Condition:
		v, ok := n.vars[s.Condition]
		if !ok {
			panic(fmt.Sprintf("normalize: undefined variable %s", s.Condition))
		}
		b, _ := v.(bool)
		if b == s.PassingValue {
			return n.traverseSelections(s.Selections, rec, data)
		}
	case *selection.InlineFragment:
		if s.AbstractKey == "" {
			if s.Type == "" || rec.Typename() == s.Type {
				return n.traverseSelections(s.Selections, rec, data)
			}
			return nil
		}
		implements, known := data[s.AbstractKey].(bool)
		if known {
			n.recordMembership(rec.Typename(), s.AbstractKey, implements)
		}
		return n.traverseSelections(s.Selections, rec, data)
	case *selection.AliasedInlineFragmentSpread:
		return n.normalizeSelection(s.Fragment, rec, data)
	case *selection.TypeDiscriminator:
		if implements, ok := data[s.AbstractKey].(bool); ok {
			n.recordMembership(rec.Typename(), s.AbstractKey, implements)
		}
	case *selection.FragmentSpread:
		if s.Fragment == nil {
			return nil
		}
		prev := n.vars
		n.vars = selection.LocalVariables(n.vars, s.Fragment.ArgumentDefinitions, s.Args)
		err := n.traverseSelections(s.Fragment.Selections, rec, data)
		n.vars = prev
		return err
	case *selection.AliasedFragmentSpread:
		return n.normalizeSelection(s.Spread, rec, data)
	case *selection.ClientExtension:
		prev := n.opts.TreatMissingFieldsAsNull
		n.opts.TreatMissingFieldsAsNull = false
		err := n.traverseSelections(s.Selections, rec, data)
		n.opts.TreatMissingFieldsAsNull = prev
		return err
	case *selection.Defer:
		return n.traverseSelections(s.Selections, rec, data)
	case *selection.Stream:
		return n.traverseSelections(s.Selections, rec, data)
	case *selection.RequiredField:
		return n.normalizeSelection(s.Field, rec, data)
	case *selection.CatchField:
		return n.normalizeSelection(s.Field, rec, data)
	case *selection.ModuleImport:
		for _, key := range []string{selection.ModuleComponentKey(s.DocumentName), selection.ModuleOperationKey(s.DocumentName)} {
			if v, ok := data[key]; ok {
				rec.Set(key, v)
			}
		}
	case *selection.ResolverField, *selection.ClientEdgeToClientObject, *selection.ClientEdgeToServerObject:
		// Derived on read.
	case *selection.ActorChange:
		return n.errorf("actor change %s cannot be normalized into a single actor's records", s.Name)
	default:
		panic(fmt.Sprintf("normalize: unexpected selection %T", sel))
	}
	return nil
}

func (n *normalizer) recordMembership(typename, abstractKey string, implements bool) {
	if typename == "" {
		return
	}
	typeRec := n.ensure(record.TypeID(typename), "__TypeSchema")
	typeRec.Set(abstractKey, implements)
}

func (n *normalizer) value(data map[string]any, responseKey string) (any, bool) {
	v, ok := data[responseKey]
	if !ok && n.opts.TreatMissingFieldsAsNull {
		return nil, true
	}
	return v, ok
}

func (n *normalizer) setErrors(rec *record.Record, key string, data map[string]any, responseKey string) {
	errs, ok := data[ErrorsKey].(map[string]any)
	if !ok {
		return
	}
	list, ok := errs[responseKey].([]any)
	if !ok {
		return
	}
	out := make([]record.FieldError, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fe := record.FieldError{}
		fe.Message, _ = m["message"].(string)
		fe.Path, _ = m["path"].([]any)
		fe.Severity, _ = m["severity"].(string)
		out = append(out, fe)
	}
	rec.SetErrors(key, out)
}

func (n *normalizer) normalizeScalar(f *selection.ScalarField, rec *record.Record, data map[string]any) error {
	responseKey := f.ResponseKey()
	v, ok := n.value(data, responseKey)
	if !ok {
		return nil
	}
	key := f.Key(n.vars)
	rec.Set(key, v)
	if v == nil {
		n.setErrors(rec, key, data, responseKey)
	}
	return nil
}

func (n *normalizer) normalizeLink(f *selection.LinkedField, rec *record.Record, data map[string]any) error {
	responseKey := f.ResponseKey()
	v, ok := n.value(data, responseKey)
	if !ok {
		return nil
	}
	key := f.Key(n.vars)
	if v == nil {
		rec.Set(key, nil)
		n.setErrors(rec, key, data, responseKey)
		return nil
	}
	n.path = append(n.path, responseKey)
	defer func() { n.path = n.path[:len(n.path)-1] }()

	if !f.Plural {
		obj, ok := v.(map[string]any)
		if !ok {
			return n.errorf("expected an object, got %T", v)
		}
		id, err := n.normalizeObject(f, rec.ID(), key, obj, -1)
		if err != nil {
			return err
		}
		rec.SetLinkedID(key, id)
		return nil
	}

	items, ok := v.([]any)
	if !ok {
		return n.errorf("expected a list, got %T", v)
	}
	ids := make([]record.DataID, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		obj, ok := item.(map[string]any)
		if !ok {
			return n.errorf("expected item %d to be an object, got %T", i, item)
		}
		n.path = append(n.path, strconv.Itoa(i))
		id, err := n.normalizeObject(f, rec.ID(), key, obj, i)
		n.path = n.path[:len(n.path)-1]
		if err != nil {
			return err
		}
		ids[i] = id
	}
	rec.SetLinkedIDs(key, ids)
	return nil
}

func (n *normalizer) normalizeObject(f *selection.LinkedField, parentID record.DataID, key string, obj map[string]any, index int) (record.DataID, error) {
	typename := f.ConcreteType
	if t, ok := obj[record.TypenameKey].(string); ok {
		typename = t
	}
	if typename == "" {
		return "", n.errorf("expected a __typename for an abstract field")
	}
	id, ok := n.opts.GetDataID(obj, typename)
	if !ok {
		if index >= 0 {
			id = record.ClientID(parentID, key, index)
		} else {
			id = record.ClientID(parentID, key)
		}
	}
	child := n.ensure(id, typename)
	return id, n.traverseSelections(f.Selections, child, obj)
}
