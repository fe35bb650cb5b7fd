package record

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/golang/glog"
)

const (
	// IDKey and TypenameKey read the identity and typename through Value.
	IDKey       = "__id"
	TypenameKey = "__typename"

	// ResolverTypename marks records owned by a resolver cache.
	ResolverTypename = "__Resolver"
)

// Link references another record.
type Link struct {
	ID DataID
}

// PluralLink references an ordered list of records. An empty ID is a null
// item.
type PluralLink struct {
	IDs []DataID
}

// ActorLink references a record owned by another actor's store.
type ActorLink struct {
	Actor string
	ID    DataID
}

// FieldError is a server error attached to a single storage key.
type FieldError struct {
	Message  string `json:"message"`
	Path     []any  `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Record is a keyed bag of field values plus identity and type metadata.
//
// Records are immutable once they are reachable through a Source. The
// setters exist for building fresh records (New, Clone) before they are
// written; everything else treats a *Record as a snapshot.
type Record struct {
	id            DataID
	typename      string
	fields        map[string]any
	errors        map[string][]FieldError
	invalidatedAt int64
	invalidated   bool
}

// New creates an empty record.
func New(id DataID, typename string) *Record {
	return &Record{id: id, typename: typename, fields: map[string]any{}}
}

func (r *Record) ID() DataID       { return r.id }
func (r *Record) Typename() string { return r.typename }

// Clone returns a shallow copy of r that may be modified.
func (r *Record) Clone() *Record {
	c := &Record{
		id:            r.id,
		typename:      r.typename,
		fields:        make(map[string]any, len(r.fields)),
		invalidatedAt: r.invalidatedAt,
		invalidated:   r.invalidated,
	}
	for k, v := range r.fields {
		c.fields[k] = v
	}
	if len(r.errors) > 0 {
		c.errors = make(map[string][]FieldError, len(r.errors))
		for k, v := range r.errors {
			c.errors[k] = v
		}
	}
	return c
}

// Keys returns the storage keys set on r in lexical order.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Has reports whether key is defined (possibly null).
func (r *Record) Has(key string) bool {
	switch key {
	case IDKey:
		return true
	case TypenameKey:
		return r.typename != ""
	}
	_, ok := r.fields[key]
	return ok
}

// Raw returns whatever is stored under key, links included.
func (r *Record) Raw(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Value returns the scalar stored under key. ok is false when the field is
// undefined; a defined null returns (nil, true). Reading a link panics.
func (r *Record) Value(key string) (any, bool) {
	switch key {
	case IDKey:
		return r.id, true
	case TypenameKey:
		if r.typename == "" {
			return nil, false
		}
		return r.typename, true
	}
	v, ok := r.fields[key]
	switch v.(type) {
	case Link, ActorLink:
		panic(fmt.Sprintf("record: expected a scalar value for %s.%s but found a linked record", r.id, key))
	case PluralLink:
		panic(fmt.Sprintf("record: expected a scalar value for %s.%s but found plural linked records", r.id, key))
	}
	return v, ok
}

// LinkedID returns the id referenced under key. ok is false when the field
// is undefined; a null link returns ("", true).
func (r *Record) LinkedID(key string) (DataID, bool) {
	v, ok := r.fields[key]
	if !ok {
		return "", false
	}
	switch l := v.(type) {
	case nil:
		return "", true
	case Link:
		return l.ID, true
	case PluralLink:
		panic(fmt.Sprintf("record: expected %s.%s to be a linked ID, it appears to be a plural linked record", r.id, key))
	default:
		panic(fmt.Sprintf("record: expected %s.%s to be a linked ID, was %v", r.id, key, v))
	}
}

// LinkedIDs returns the ids referenced under key, with "" for null items.
// A null field returns (nil, true).
func (r *Record) LinkedIDs(key string) ([]DataID, bool) {
	v, ok := r.fields[key]
	if !ok {
		return nil, false
	}
	switch l := v.(type) {
	case nil:
		return nil, true
	case PluralLink:
		return l.IDs, true
	case Link:
		panic(fmt.Sprintf("record: expected %s.%s to contain an array of linked IDs, it appears to be a singular linked record", r.id, key))
	default:
		panic(fmt.Sprintf("record: expected %s.%s to contain an array of linked IDs, was %v", r.id, key, v))
	}
}

// ActorLinkedID returns the actor-scoped link under key. A null field
// returns a nil link and true.
func (r *Record) ActorLinkedID(key string) (*ActorLink, bool) {
	v, ok := r.fields[key]
	if !ok {
		return nil, false
	}
	switch l := v.(type) {
	case nil:
		return nil, true
	case ActorLink:
		return &l, true
	default:
		panic(fmt.Sprintf("record: expected %s.%s to be an actor specific linked ID, was %v", r.id, key, v))
	}
}

// Errors returns the field errors recorded for key.
func (r *Record) Errors(key string) []FieldError { return r.errors[key] }

// InvalidationEpoch returns the write epoch at which r was invalidated.
func (r *Record) InvalidationEpoch() (int64, bool) { return r.invalidatedAt, r.invalidated }

// Set stores a scalar value. Passing nil stores an explicit null.
func (r *Record) Set(key string, v any) {
	switch key {
	case IDKey:
		if v != r.id {
			glog.Warningf("record: invalid field update, expected both versions of the record to have the same id, got %q and %v", r.id, v)
		}
		return
	case TypenameKey:
		next, _ := v.(string)
		if !sameType(r.id, r.typename, next) {
			glog.Warningf("record: invalid field update, expected both versions of record %q to have the same typename but got %q and %q", r.id, r.typename, next)
		}
		r.typename = next
		return
	}
	r.fields[key] = v
}

// Unset makes key undefined.
func (r *Record) Unset(key string) {
	delete(r.fields, key)
	delete(r.errors, key)
}

func (r *Record) SetLinkedID(key string, id DataID) { r.fields[key] = Link{ID: id} }

func (r *Record) SetLinkedIDs(key string, ids []DataID) { r.fields[key] = PluralLink{IDs: ids} }

func (r *Record) SetActorLinkedID(key, actor string, id DataID) {
	r.fields[key] = ActorLink{Actor: actor, ID: id}
}

// SetErrors replaces the errors of key; an empty list clears them.
func (r *Record) SetErrors(key string, errs []FieldError) {
	if len(errs) > 0 {
		if r.errors == nil {
			r.errors = map[string][]FieldError{}
		}
		r.errors[key] = errs
		return
	}
	delete(r.errors, key)
	if len(r.errors) == 0 {
		r.errors = nil
	}
}

func (r *Record) SetInvalidationEpoch(epoch int64) {
	r.invalidatedAt = epoch
	r.invalidated = true
}

// IsResolver reports whether r is a resolver cache entry.
func (r *Record) IsResolver() bool { return r.typename == ResolverTypename }

// Update applies the fields of next on top of prev. It returns prev itself
// when next carries no observable change.
func Update(prev, next *Record) *Record {
	checkCompatible("update", prev, next)
	var updated *Record
	ensure := func() {
		if updated == nil {
			updated = prev.Clone()
		}
	}
	if next.typename != "" && next.typename != prev.typename {
		ensure()
		updated.typename = next.typename
	}
	if next.invalidated && (!prev.invalidated || prev.invalidatedAt != next.invalidatedAt) {
		ensure()
		updated.invalidated = true
		updated.invalidatedAt = next.invalidatedAt
	}
	for key, nv := range next.fields {
		pv, had := prev.fields[key]
		if updated == nil && had && reflect.DeepEqual(pv, nv) && reflect.DeepEqual(prev.errors[key], next.errors[key]) {
			continue
		}
		ensure()
		updated.fields[key] = nv
		updated.SetErrors(key, next.errors[key])
	}
	if updated == nil {
		return prev
	}
	return updated
}

// Merge returns a new record with the fields of b layered over a.
func Merge(a, b *Record) *Record {
	checkCompatible("merge", a, b)
	m := a.Clone()
	if b.typename != "" {
		m.typename = b.typename
	}
	for key, v := range b.fields {
		m.fields[key] = v
		if _, ok := b.errors[key]; !ok {
			m.SetErrors(key, nil)
		}
	}
	for key, errs := range b.errors {
		m.SetErrors(key, errs)
	}
	if b.invalidated {
		m.invalidated = true
		m.invalidatedAt = b.invalidatedAt
	}
	return m
}

func checkCompatible(op string, prev, next *Record) {
	if prev.id != next.id {
		glog.Warningf("record: invalid record %s, expected both versions of the record to have the same id, got %q and %q", op, prev.id, next.id)
	}
	if !sameType(next.id, prev.typename, next.typename) {
		glog.Warningf("record: invalid record %s, expected both versions of record %q to have the same typename but got conflicting types %q and %q; "+
			"the server likely returned the same id for different objects", op, prev.id, prev.typename, next.typename)
	}
}

// sameType reports whether two typenames for id are compatible. Client ids
// other than the root are exempt.
func sameType(id DataID, prev, next string) bool {
	if IsClientID(id) && id != RootID {
		return true
	}
	return prev == next
}
