package record

import (
	"slices"
	"strconv"
	"strings"
)

// DataID is the opaque identity of a record.
type DataID = string

const (
	// RootID identifies the root record every operation reads from.
	RootID DataID = "client:root"
	// RootType is the typename of the root record.
	RootType = "__Root"

	clientPrefix = "client:"
	typePrefix   = "client:__type:"
)

// ClientID derives the identity of a record that has no server id from its
// parent record, the storage key that links to it and an optional list index.
func ClientID(parent DataID, storageKey string, index ...int) DataID {
	key := parent + ":" + storageKey
	if len(index) > 0 {
		key += ":" + strconv.Itoa(index[0])
	}
	if !strings.HasPrefix(key, clientPrefix) {
		key = clientPrefix + key
	}
	return key
}

// ClientObjectID is the identity of a client-only object of the given type.
func ClientObjectID(typename string, localID DataID, index ...int) DataID {
	key := clientPrefix + typename + ":" + localID
	if len(index) > 0 {
		key += ":" + strconv.Itoa(index[0])
	}
	return key
}

// TypeID is the identity of the schema record describing typename.
func TypeID(typename string) DataID { return typePrefix + typename }

// IsClientID reports whether id was synthesized on the client.
func IsClientID(id DataID) bool { return strings.HasPrefix(id, clientPrefix) }

// IDSet is a set of record identities. It never owns the records.
type IDSet map[DataID]struct{}

func NewIDSet(ids ...DataID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Add(id DataID) { s[id] = struct{}{} }

func (s IDSet) AddAll(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id DataID) bool {
	_, ok := s[id]
	return ok
}

// Intersects reports whether s and other share at least one id.
func (s IDSet) Intersects(other IDSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for id := range small {
		if _, ok := large[id]; ok {
			return true
		}
	}
	return false
}

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []DataID {
	out := make([]DataID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
