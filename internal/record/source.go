package record

// Status is the existence state of a record in a Source.
type Status int

const (
	// Unknown means the source has never heard of the record.
	Unknown Status = iota
	// Nonexistent means the record is known to be absent.
	Nonexistent
	// Existent means the record is present.
	Existent
)

func (s Status) String() string {
	switch s {
	case Nonexistent:
		return "NONEXISTENT"
	case Existent:
		return "EXISTENT"
	default:
		return "UNKNOWN"
	}
}

// Source is an addressable collection of records.
//
// Get returns nil for both unknown and nonexistent records; Status tells
// them apart.
type Source interface {
	Get(id DataID) *Record
	Status(id DataID) Status
	// Has reports whether the source knows about id, present or absent.
	Has(id DataID) bool
	Set(id DataID, r *Record)
	// Delete marks id as known to be absent.
	Delete(id DataID)
	// Remove forgets id so that it becomes unknown.
	Remove(id DataID)
	// IDs lists every known id, nonexistent ones included.
	IDs() []DataID
	Size() int
}

// MapSource is the in-memory Source.
type MapSource struct {
	records map[DataID]*Record
}

// NewMapSource creates a source holding the given records.
func NewMapSource(records ...*Record) *MapSource {
	s := &MapSource{records: make(map[DataID]*Record, len(records))}
	for _, r := range records {
		s.records[r.ID()] = r
	}
	return s
}

func (s *MapSource) Get(id DataID) *Record { return s.records[id] }

func (s *MapSource) Status(id DataID) Status {
	r, ok := s.records[id]
	switch {
	case !ok:
		return Unknown
	case r == nil:
		return Nonexistent
	default:
		return Existent
	}
}

func (s *MapSource) Has(id DataID) bool {
	_, ok := s.records[id]
	return ok
}

func (s *MapSource) Set(id DataID, r *Record) { s.records[id] = r }
func (s *MapSource) Delete(id DataID)         { s.records[id] = nil }
func (s *MapSource) Remove(id DataID)         { delete(s.records, id) }
func (s *MapSource) Size() int                { return len(s.records) }

func (s *MapSource) IDs() []DataID {
	ids := make([]DataID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

// Clear forgets every record.
func (s *MapSource) Clear() { s.records = map[DataID]*Record{} }

// OptimisticSource layers speculative writes over a base source. Writes go
// to the overlay only; dropping the overlay restores the base view.
type OptimisticSource struct {
	base    Source
	sink    *MapSource
	removed IDSet
}

func NewOptimisticSource(base Source) *OptimisticSource {
	return &OptimisticSource{base: base, sink: NewMapSource(), removed: IDSet{}}
}

func (s *OptimisticSource) Get(id DataID) *Record {
	if s.removed.Has(id) {
		return nil
	}
	if s.sink.Has(id) {
		return s.sink.Get(id)
	}
	return s.base.Get(id)
}

func (s *OptimisticSource) Status(id DataID) Status {
	if s.removed.Has(id) {
		return Unknown
	}
	if s.sink.Has(id) {
		return s.sink.Status(id)
	}
	return s.base.Status(id)
}

func (s *OptimisticSource) Has(id DataID) bool { return s.Status(id) != Unknown }

func (s *OptimisticSource) Set(id DataID, r *Record) {
	delete(s.removed, id)
	s.sink.Set(id, r)
}

func (s *OptimisticSource) Delete(id DataID) {
	delete(s.removed, id)
	s.sink.Delete(id)
}

func (s *OptimisticSource) Remove(id DataID) {
	s.sink.Remove(id)
	s.removed.Add(id)
}

func (s *OptimisticSource) IDs() []DataID {
	seen := IDSet{}
	var ids []DataID
	for _, id := range s.base.IDs() {
		if !s.removed.Has(id) {
			seen.Add(id)
			ids = append(ids, id)
		}
	}
	for _, id := range s.sink.IDs() {
		if !seen.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *OptimisticSource) Size() int { return len(s.IDs()) }

// OptimisticIDs lists the ids written or removed through the overlay.
func (s *OptimisticSource) OptimisticIDs() IDSet {
	ids := NewIDSet(s.sink.IDs()...)
	ids.AddAll(s.removed)
	return ids
}
