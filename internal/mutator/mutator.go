// Package mutator provides a copy-on-write view over a record source.
// Reads fall through to the base; writes land in the sink.
package mutator

import (
	"fmt"

	"github.com/hanpama/graphcache/internal/record"
)

type Mutator struct {
	base record.Source
	sink record.Source
}

func New(base, sink record.Source) *Mutator {
	return &Mutator{base: base, sink: sink}
}

// Sink returns the source receiving writes.
func (m *Mutator) Sink() record.Source { return m.sink }

func (m *Mutator) Status(id record.DataID) record.Status {
	if m.sink.Has(id) {
		return m.sink.Status(id)
	}
	return m.base.Status(id)
}

// Get returns the current version of the record, nil when it is unknown
// or nonexistent.
func (m *Mutator) Get(id record.DataID) *record.Record {
	if m.sink.Has(id) {
		return m.sink.Get(id)
	}
	return m.base.Get(id)
}

func (m *Mutator) Type(id record.DataID) (string, bool) {
	r := m.Get(id)
	if r == nil || r.Typename() == "" {
		return "", false
	}
	return r.Typename(), true
}

func (m *Mutator) Value(id record.DataID, key string) (any, bool) {
	r := m.Get(id)
	if r == nil {
		return nil, false
	}
	return r.Value(key)
}

func (m *Mutator) LinkedID(id record.DataID, key string) (record.DataID, bool) {
	r := m.Get(id)
	if r == nil {
		return "", false
	}
	return r.LinkedID(key)
}

func (m *Mutator) LinkedIDs(id record.DataID, key string) ([]record.DataID, bool) {
	r := m.Get(id)
	if r == nil {
		return nil, false
	}
	return r.LinkedIDs(key)
}

// Create adds a new record to the sink. The record must not exist yet.
func (m *Mutator) Create(id record.DataID, typename string) *record.Record {
	if m.Status(id) == record.Existent {
		panic(fmt.Sprintf("mutator: cannot create record %s, it already exists", id))
	}
	r := record.New(id, typename)
	m.sink.Set(id, r)
	return r
}

func (m *Mutator) Delete(id record.DataID) { m.sink.Delete(id) }

func (m *Mutator) SetValue(id record.DataID, key string, v any) {
	m.writable(id).Set(key, v)
}

func (m *Mutator) SetLinkedID(id record.DataID, key string, linked record.DataID) {
	m.writable(id).SetLinkedID(key, linked)
}

func (m *Mutator) SetLinkedIDs(id record.DataID, key string, linked []record.DataID) {
	m.writable(id).SetLinkedIDs(key, linked)
}

// writable returns the sink copy of id, cloning it from the base on first
// write.
func (m *Mutator) writable(id record.DataID) *record.Record {
	if m.sink.Status(id) == record.Existent {
		return m.sink.Get(id)
	}
	base := m.base.Get(id)
	if base == nil || m.sink.Has(id) {
		panic(fmt.Sprintf("mutator: cannot modify record %s, it does not exist", id))
	}
	r := base.Clone()
	m.sink.Set(id, r)
	return r
}
