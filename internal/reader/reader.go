// Package reader materializes selector data out of a record source.
package reader

import (
	"fmt"
	"strings"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/recycle"
	"github.com/hanpama/graphcache/internal/resolver"
	"github.com/hanpama/graphcache/internal/selection"
)

// Keys of fragment pointers and other reader-produced metadata.
const (
	IDKey                              = "__id"
	FragmentsKey                       = "__fragments"
	FragmentOwnerKey                   = "__fragmentOwner"
	FragmentPropNameKey                = "__fragmentPropName"
	ModuleComponentKey                 = "__module_component"
	ClientEdgeTraversalPathKey         = "__clientEdgeTraversalPath"
	IsWithinUnmatchedTypeRefinementKey = "__isWithinUnmatchedTypeRefinement"
	FragmentRefKey                     = "__fragmentRef"
	ViewerKey                          = "__viewer"
)

// Read reads sel out of src. cache may be nil, in which case resolvers are
// evaluated on every read.
func Read(src record.Source, sel selection.Selector, cache ResolverCache) *Snapshot {
	if cache == nil {
		cache = NoopCache{}
	}
	r := newReader(src, sel, cache)
	return r.read()
}

// Reread reads prev's selector again and recycles the result against
// prev's data, so an unchanged read returns prev.Data itself.
func Reread(src record.Source, prev *Snapshot, cache ResolverCache) *Snapshot {
	next := Read(src, prev.Selector, cache)
	next.Data = recycle.Nodes(prev.Data, next.Data)
	return next
}

type reader struct {
	src          record.Source
	sel          selection.Selector
	cache        ResolverCache
	vars         map[string]any
	owner        *selection.RequestDescriptor
	fragmentName string

	seen                            record.IDSet
	updated                         record.IDSet
	isMissingData                   bool
	isWithinUnmatchedTypeRefinement bool
	missingRequired                 *MissingRequiredFields
	errorFields                     []ErrorResponseField
	missingClientEdges              []MissingClientEdge
	missingLive                     []MissingLiveResolverField
	resolverErrors                  []ResolverError
	clientEdgePath                  []*selection.ClientEdgeTraversal
}

func newReader(src record.Source, sel selection.Selector, cache ResolverCache) *reader {
	vars := sel.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	var path []*selection.ClientEdgeTraversal
	if len(sel.ClientEdgeTraversalPath) > 0 {
		path = append(path, sel.ClientEdgeTraversalPath...)
	}
	return &reader{
		src:            src,
		sel:            sel,
		cache:          cache,
		vars:           vars,
		owner:          sel.Owner,
		fragmentName:   sel.Node.Name,
		seen:           record.NewIDSet(),
		updated:        record.NewIDSet(),
		clientEdgePath: path,
	}
}

func (r *reader) read() *Snapshot {
	node := r.sel.Node
	rec := r.src.Get(r.sel.DataID)
	isDataExpectedToBePresent := !r.sel.IsWithinUnmatchedTypeRefinement
	if isDataExpectedToBePresent && node.AbstractKey == "" && node.Type != "" && rec != nil {
		if rec.Typename() != node.Type && r.sel.DataID != record.RootID {
			isDataExpectedToBePresent = false
		}
	}
	if isDataExpectedToBePresent && node.AbstractKey != "" && rec != nil {
		implements, known := r.implementsInterface(rec, node.AbstractKey)
		if known && !implements {
			isDataExpectedToBePresent = false
		} else if !known {
			r.isMissingData = true
		}
	}
	r.isWithinUnmatchedTypeRefinement = !isDataExpectedToBePresent

	data, _ := r.traverse(node.Selections, r.sel.DataID, nil)

	if len(r.updated) > 0 {
		r.cache.NotifyUpdatedSubscribers(r.updated)
	}
	var out any
	if data != nil {
		out = data
	}
	return &Snapshot{
		Selector:                  r.sel,
		Data:                      out,
		IsMissingData:             r.isMissingData && isDataExpectedToBePresent,
		SeenRecords:               r.seen,
		MissingRequiredFields:     r.missingRequired,
		ErrorResponseFields:       r.errorFields,
		MissingClientEdges:        r.missingClientEdges,
		MissingLiveResolverFields: r.missingLive,
		ResolverErrors:            r.resolverErrors,
	}
}

// traverse reads selections on the record id into prev, or a fresh object.
// ok is false when the record is unknown and the result is undefined.
func (r *reader) traverse(sels []selection.Selection, id record.DataID, prev map[string]any) (map[string]any, bool) {
	r.seen.Add(id)
	switch r.src.Status(id) {
	case record.Unknown:
		r.markDataAsMissing()
		return nil, false
	case record.Nonexistent:
		return nil, true
	}
	rec := r.src.Get(id)
	data := prev
	if data == nil {
		data = map[string]any{}
	}
	if !r.traverseSelections(sels, rec, data) {
		return nil, true
	}
	return data, true
}

// traverseSelections reads sels into data and reports false when a
// @required field nulled out the object.
func (r *reader) traverseSelections(sels []selection.Selection, rec *record.Record, data map[string]any) bool {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *selection.RequiredField:
			if v := r.readRequiredField(s, rec, data); v == nil {
				if s.Action != selection.RequiredNone {
					r.reportUnexpectedNull(s.Path, s.Action)
				}
				return false
			}
		case *selection.CatchField:
			r.readCatchField(s, rec, data)
		case *selection.ScalarField:
			r.readScalar(s, rec, data)
		case *selection.LinkedField:
			if s.Plural {
				r.readPluralLink(s, rec, data)
			} else {
				r.readLink(s, rec, data)
			}
		case *selection.Condition:
			if r.conditionPasses(s.Condition) == s.PassingValue {
				if !r.traverseSelections(s.Selections, rec, data) {
					return false
				}
			}
		case *selection.InlineFragment:
			if r.readInlineFragment(s, rec, data) == inlineRequiredFailed {
				return false
			}
		case *selection.AliasedInlineFragmentSpread:
			r.readAliasedInlineFragment(s, rec, data)
		case *selection.AliasedFragmentSpread:
			r.readAliasedFragmentSpread(s, rec, data)
		case *selection.FragmentSpread:
			r.createFragmentPointer(s.Name, s.Args, rec.ID(), data)
		case *selection.ResolverField:
			r.readResolverField(s, rec, data)
		case *selection.ClientEdgeToClientObject:
			r.readClientEdge(s.Backing, s.Linked, s.ConcreteType, s.ModelResolvers, nil, rec, data)
		case *selection.ClientEdgeToServerObject:
			r.readClientEdge(s.Backing, s.Linked, "", nil, s, rec, data)
		case *selection.ModuleImport:
			r.readModuleImport(s, rec, data)
		case *selection.Defer:
			if !r.traverseBoundary(s.Selections, rec, data) {
				return false
			}
		case *selection.ClientExtension:
			if !r.traverseBoundary(s.Selections, rec, data) {
				return false
			}
		case *selection.Stream:
			if !r.traverseSelections(s.Selections, rec, data) {
				return false
			}
		case *selection.ActorChange:
			r.readActorChange(s, rec, data)
		case *selection.TypeDiscriminator:
		default:
			panic(fmt.Sprintf("reader: unexpected selection %T", sel))
		}
	}
	return true
}

// traverseBoundary reads selections whose data may legitimately be absent.
// Only missing client edges or suspended live fields found below it count
// as missing data.
func (r *reader) traverseBoundary(sels []selection.Selection, rec *record.Record, data map[string]any) bool {
	isMissingData := r.isMissingData
	edges := len(r.missingClientEdges)
	r.clientEdgePath = append(r.clientEdgePath, nil)
	ok := r.traverseSelections(sels, rec, data)
	r.isMissingData = isMissingData || len(r.missingClientEdges) > edges || len(r.missingLive) > 0
	r.clientEdgePath = r.clientEdgePath[:len(r.clientEdgePath)-1]
	return ok
}

func (r *reader) readRequiredField(s *selection.RequiredField, rec *record.Record, data map[string]any) any {
	switch s.Field.(type) {
	case *selection.ScalarField, *selection.LinkedField, *selection.ResolverField,
		*selection.ClientEdgeToClientObject, *selection.ClientEdgeToServerObject:
	default:
		panic(fmt.Sprintf("reader: unexpected @required field %T", s.Field))
	}
	return r.readField(s.Field, rec, data)
}

// readField reads a single field and returns its value, nil when it is
// null or undefined.
func (r *reader) readField(sel selection.Selection, rec *record.Record, data map[string]any) any {
	switch s := sel.(type) {
	case *selection.ScalarField:
		return r.readScalar(s, rec, data)
	case *selection.LinkedField:
		if s.Plural {
			return r.readPluralLink(s, rec, data)
		}
		return r.readLink(s, rec, data)
	case *selection.ResolverField:
		return r.readResolverField(s, rec, data)
	case *selection.ClientEdgeToClientObject:
		return r.readClientEdge(s.Backing, s.Linked, s.ConcreteType, s.ModelResolvers, nil, rec, data)
	case *selection.ClientEdgeToServerObject:
		return r.readClientEdge(s.Backing, s.Linked, "", nil, s, rec, data)
	case *selection.RequiredField:
		v := r.readField(s.Field, rec, data)
		if v == nil && s.Action != selection.RequiredNone {
			r.reportUnexpectedNull(s.Path, s.Action)
		}
		return v
	default:
		panic(fmt.Sprintf("reader: unexpected field %T", sel))
	}
}

func fieldResponseKey(sel selection.Selection) string {
	switch s := sel.(type) {
	case *selection.ScalarField:
		return s.ResponseKey()
	case *selection.LinkedField:
		return s.ResponseKey()
	case *selection.ResolverField:
		return s.ResponseKey()
	case *selection.ClientEdgeToClientObject:
		return s.Backing.ResponseKey()
	case *selection.ClientEdgeToServerObject:
		return s.Backing.ResponseKey()
	case *selection.RequiredField:
		return fieldResponseKey(s.Field)
	default:
		panic(fmt.Sprintf("reader: unexpected field %T", sel))
	}
}

// readCatchField reads the wrapped field and turns errors raised while
// reading it into a result object.
func (r *reader) readCatchField(s *selection.CatchField, rec *record.Record, data map[string]any) {
	errStart := len(r.errorFields)
	prevRequired := r.missingRequired
	value := r.readField(s.Field, rec, data)
	key := fieldResponseKey(s.Field)

	if m := r.missingRequired; m != nil && m != prevRequired && m.Action == selection.RequiredThrow {
		r.errorFields = append(r.errorFields, ErrorResponseField{
			Owner: m.Field.Owner,
			Path:  m.Field.Path,
			Error: record.FieldError{
				Message: fmt.Sprintf("missing @required value at path '%s' in '%s'", m.Field.Path, m.Field.Owner),
			},
		})
		r.missingRequired = prevRequired
	}

	caught := r.errorFields[errStart:]
	for i := range caught {
		caught[i].To = s.To
	}
	if s.To == selection.CatchNull {
		if len(caught) > 0 {
			data[key] = nil
		}
		return
	}
	if len(caught) > 0 {
		errs := make([]record.FieldError, len(caught))
		for i, f := range caught {
			errs[i] = f.Error
		}
		data[key] = map[string]any{"ok": false, "errors": errs}
		return
	}
	if _, defined := data[key]; !defined && value == nil {
		return
	}
	data[key] = map[string]any{"ok": true, "value": value}
}

func (r *reader) readScalar(f *selection.ScalarField, rec *record.Record, data map[string]any) any {
	name := f.ResponseKey()
	key := f.Key(r.vars)
	v, ok := rec.Value(key)
	if !ok {
		delete(data, name)
		r.markDataAsMissing()
		return nil
	}
	if v == nil {
		r.maybeAddErrorResponseFields(rec, key)
	}
	data[name] = v
	return v
}

func (r *reader) readLink(f *selection.LinkedField, rec *record.Record, data map[string]any) any {
	name := f.ResponseKey()
	key := f.Key(r.vars)
	id, ok := rec.LinkedID(key)
	if !ok {
		delete(data, name)
		r.markDataAsMissing()
		return nil
	}
	if id == "" {
		data[name] = nil
		r.maybeAddErrorResponseFields(rec, key)
		return nil
	}
	prev := prevObject(data[name], rec.ID(), name)
	v, defined := r.traverse(f.Selections, id, prev)
	return setObject(data, name, v, defined)
}

func (r *reader) readPluralLink(f *selection.LinkedField, rec *record.Record, data map[string]any) any {
	key := f.Key(r.vars)
	ids, ok := rec.LinkedIDs(key)
	if ok && ids == nil {
		data[f.ResponseKey()] = nil
		r.maybeAddErrorResponseFields(rec, key)
		return nil
	}
	return r.readLinkedIDs(f, ids, ok, rec.ID(), data)
}

func (r *reader) readLinkedIDs(f *selection.LinkedField, ids []record.DataID, defined bool, parentID record.DataID, data map[string]any) any {
	name := f.ResponseKey()
	if !defined {
		delete(data, name)
		r.markDataAsMissing()
		return nil
	}
	if ids == nil {
		data[name] = nil
		return nil
	}
	var prev []any
	switch p := data[name].(type) {
	case nil:
	case []any:
		prev = p
	default:
		panic(fmt.Sprintf("reader: expected data for field %s on record %s to be an array, got %T", name, parentID, p))
	}
	list := make([]any, len(ids))
	for i, id := range ids {
		if id == "" {
			continue
		}
		var prevItem map[string]any
		if i < len(prev) {
			prevItem = prevObject(prev[i], parentID, name)
		}
		if v, ok := r.traverse(f.Selections, id, prevItem); ok && v != nil {
			list[i] = v
		}
	}
	data[name] = list
	return list
}

func prevObject(v any, parentID record.DataID, name string) map[string]any {
	switch p := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return p
	default:
		panic(fmt.Sprintf("reader: expected data for field %s on record %s to be an object, got %T", name, parentID, v))
	}
}

func setObject(data map[string]any, name string, v map[string]any, defined bool) any {
	switch {
	case !defined:
		delete(data, name)
		return nil
	case v == nil:
		data[name] = nil
		return nil
	default:
		data[name] = v
		return v
	}
}

type inlineResult int

const (
	inlineMatched inlineResult = iota
	inlineNull
	inlineUndefined
	inlineRequiredFailed
)

func (r *reader) readInlineFragment(f *selection.InlineFragment, rec *record.Record, data map[string]any) inlineResult {
	if f.Type == "" {
		if !r.traverseSelections(f.Selections, rec, data) {
			return inlineRequiredFailed
		}
		return inlineMatched
	}
	if f.AbstractKey == "" {
		if rec.Typename() != f.Type {
			return inlineNull
		}
		if !r.traverseSelections(f.Selections, rec, data) {
			return inlineRequiredFailed
		}
		return inlineMatched
	}

	implements, known := r.implementsInterface(rec, f.AbstractKey)
	parentIsMissingData := r.isMissingData
	parentIsWithinUnmatched := r.isWithinUnmatchedTypeRefinement
	r.isWithinUnmatchedTypeRefinement = parentIsWithinUnmatched || (known && !implements)
	ok := r.traverseSelections(f.Selections, rec, data)
	r.isWithinUnmatchedTypeRefinement = parentIsWithinUnmatched

	switch {
	case known && !implements:
		r.isMissingData = parentIsMissingData
		return inlineNull
	case !known:
		r.markDataAsMissing()
		return inlineUndefined
	case !ok:
		return inlineRequiredFailed
	}
	return inlineMatched
}

func (r *reader) readAliasedInlineFragment(s *selection.AliasedInlineFragmentSpread, rec *record.Record, data map[string]any) {
	fieldData := prevObject(data[s.Name], rec.ID(), s.Name)
	if fieldData == nil {
		fieldData = map[string]any{}
	}
	switch r.readInlineFragment(s.Fragment, rec, fieldData) {
	case inlineMatched:
		data[s.Name] = fieldData
	case inlineUndefined:
		delete(data, s.Name)
	default:
		data[s.Name] = nil
	}
}

func (r *reader) readAliasedFragmentSpread(s *selection.AliasedFragmentSpread, rec *record.Record, data map[string]any) {
	if s.AbstractKey == "" {
		if rec.Typename() != s.Type {
			data[s.Name] = nil
			return
		}
	} else {
		implements, known := r.implementsInterface(rec, s.AbstractKey)
		if !known {
			r.markDataAsMissing()
			delete(data, s.Name)
			return
		}
		if !implements {
			data[s.Name] = nil
			return
		}
	}
	fieldData := map[string]any{}
	r.createFragmentPointer(s.Spread.Name, s.Spread.Args, rec.ID(), fieldData)
	data[s.Name] = fieldData
}

func (r *reader) implementsInterface(rec *record.Record, abstractKey string) (implements, known bool) {
	typeRecord := r.src.Get(record.TypeID(rec.Typename()))
	if typeRecord == nil {
		return false, false
	}
	v, ok := typeRecord.Value(abstractKey)
	if !ok || v == nil {
		return false, false
	}
	b, _ := v.(bool)
	return b, true
}

func (r *reader) createFragmentPointer(name string, args []selection.Argument, id record.DataID, data map[string]any) {
	pointers, _ := data[FragmentsKey].(map[string]any)
	if pointers == nil {
		pointers = map[string]any{}
		data[FragmentsKey] = pointers
	}
	if _, ok := data[IDKey]; !ok {
		data[IDKey] = id
	}
	values := selection.ArgumentValues(args, r.vars)
	if r.isWithinUnmatchedTypeRefinement {
		values[IsWithinUnmatchedTypeRefinementKey] = true
	}
	pointers[name] = values
	data[FragmentOwnerKey] = r.owner
	if n := len(r.clientEdgePath); n > 0 && r.clientEdgePath[n-1] != nil {
		path := make([]*selection.ClientEdgeTraversal, n)
		copy(path, r.clientEdgePath)
		data[ClientEdgeTraversalPathKey] = path
	}
}

func (r *reader) readModuleImport(m *selection.ModuleImport, rec *record.Record, data map[string]any) {
	component, ok := rec.Value(selection.ModuleComponentKey(m.DocumentName))
	if !ok {
		r.markDataAsMissing()
		return
	}
	if component == nil {
		return
	}
	r.createFragmentPointer(m.FragmentName, m.Args, rec.ID(), data)
	data[FragmentPropNameKey] = m.FragmentPropName
	data[ModuleComponentKey] = component
}

func (r *reader) readActorChange(f *selection.ActorChange, rec *record.Record, data map[string]any) {
	name := f.ResponseKey()
	key := f.Key(r.vars)
	link, ok := rec.ActorLinkedID(key)
	if !ok {
		delete(data, name)
		r.markDataAsMissing()
		return
	}
	if link == nil {
		data[name] = nil
		r.maybeAddErrorResponseFields(rec, key)
		return
	}
	ref := map[string]any{}
	r.createFragmentPointer(f.Spread.Name, f.Spread.Args, link.ID, ref)
	data[name] = map[string]any{FragmentRefKey: ref, ViewerKey: link.Actor}
}

func (r *reader) readResolverField(f *selection.ResolverField, rec *record.Record, data map[string]any) any {
	name := f.ResponseKey()
	v, defined := r.readResolverValue(f, rec.ID())
	if !defined {
		delete(data, name)
		return nil
	}
	data[name] = v
	return v
}

// readResolverValue resolves f on the record parentID. defined is false
// when the resolver produced no value.
func (r *reader) readResolverValue(f *selection.ResolverField, parentID record.DataID) (any, bool) {
	var fragmentSnapshot *Snapshot
	getData := func(sel selection.Selector) *Snapshot {
		if fragmentSnapshot == nil {
			fragmentSnapshot = Read(r.src, sel, r.cache)
		}
		return fragmentSnapshot
	}
	evaluate := func() Evaluation {
		args := selection.ArgumentValues(f.Args, r.vars)
		if f.Fragment == nil {
			return Evaluation{Outcome: callResolver(f, nil, args)}
		}
		snap := getData(r.fragmentSelector(f, parentID))
		if snap.IsMissingData {
			return Evaluation{Outcome: resolver.Missing(), Snapshot: snap}
		}
		return Evaluation{Outcome: callResolver(f, snap.Data, args), Snapshot: snap}
	}

	res := r.cache.ReadFromCacheOrEvaluate(parentID, f, r.vars, evaluate, getData)
	r.propagateResolverMetadata(f, res)
	if res.Undefined || res.SuspenseID != "" {
		return nil, false
	}
	return res.Value, true
}

func (r *reader) fragmentSelector(f *selection.ResolverField, parentID record.DataID) selection.Selector {
	rootVars := r.vars
	if r.owner != nil {
		rootVars = r.owner.Variables
	}
	return selection.Selector{
		Node:      f.Fragment,
		DataID:    parentID,
		Variables: selection.FragmentVariables(f.Fragment, rootVars, selection.ArgumentValues(f.FragmentArgs, r.vars)),
		Owner:     r.owner,
	}
}

func callResolver(f *selection.ResolverField, data any, args map[string]any) (o resolver.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			o = resolver.Fail(fmt.Errorf("resolver %s panicked: %v", f.Path, p))
		}
	}()
	return f.Resolve(data, args)
}

func (r *reader) propagateResolverMetadata(f *selection.ResolverField, res CacheResult) {
	if s := res.Snapshot; s != nil {
		if s.MissingRequiredFields != nil {
			r.addMissingRequiredFields(s.MissingRequiredFields)
		}
		r.missingClientEdges = append(r.missingClientEdges, s.MissingClientEdges...)
		if len(s.MissingLiveResolverFields) > 0 {
			r.isMissingData = true
			r.missingLive = append(r.missingLive, s.MissingLiveResolverFields...)
		}
		r.resolverErrors = append(r.resolverErrors, s.ResolverErrors...)
		r.errorFields = append(r.errorFields, s.ErrorResponseFields...)
		r.isMissingData = r.isMissingData || s.IsMissingData
	}
	if res.Err != nil {
		r.resolverErrors = append(r.resolverErrors, ResolverError{
			Field: FieldPath{Path: f.Path, Owner: r.fragmentName},
			Err:   res.Err,
		})
	}
	if res.RecordID != "" {
		r.seen.Add(res.RecordID)
	}
	if res.SuspenseID != "" {
		r.isMissingData = true
		r.missingLive = append(r.missingLive, MissingLiveResolverField{
			Path:        r.fragmentName + "." + f.Path,
			LiveStateID: res.SuspenseID,
		})
	}
	r.updated.AddAll(res.UpdatedIDs)
}

// readClientEdge reads the backing resolver and follows the ids it returns.
// server is set for edges pointing at server objects.
func (r *reader) readClientEdge(
	backing *selection.ResolverField,
	linked *selection.LinkedField,
	concreteType string,
	modelResolvers map[string]*selection.ResolverField,
	server *selection.ClientEdgeToServerObject,
	rec *record.Record,
	data map[string]any,
) any {
	name := backing.ResponseKey()
	response, defined := r.readResolverValue(backing, rec.ID())
	if !defined {
		delete(data, name)
		return nil
	}
	if response == nil {
		data[name] = nil
		return nil
	}

	if linked.Plural {
		if server != nil {
			panic("reader: plural client edges to server objects are not supported")
		}
		items, ok := response.([]any)
		if !ok {
			panic(fmt.Sprintf("reader: expected plural client edge %s to return a list, got %T", backing.Path, response))
		}
		ids := make([]record.DataID, 0, len(items))
		for _, item := range items {
			if backing.Output != nil {
				ids = append(ids, extractID(item))
				continue
			}
			typename := concreteType
			if typename == "" {
				typename = responseTypename(item, backing.Path)
			}
			id := r.cache.EnsureClientRecord(extractID(item), typename)
			if modelResolvers != nil && !r.modelExists(modelResolvers, typename, id) {
				ids = append(ids, "")
				continue
			}
			ids = append(ids, id)
		}
		r.clientEdgePath = append(r.clientEdgePath, nil)
		v := r.readLinkedIDs(linked, ids, true, rec.ID(), data)
		r.clientEdgePath = r.clientEdgePath[:len(r.clientEdgePath)-1]
		data[name] = v
		return v
	}

	id := extractID(response)
	var step *selection.ClientEdgeTraversal
	storeID := id
	if server != nil {
		step = &selection.ClientEdgeTraversal{Edge: server, DestinationID: id}
	} else if backing.Output == nil {
		typename := concreteType
		if typename == "" {
			typename = responseTypename(response, backing.Path)
		}
		storeID = r.cache.EnsureClientRecord(id, typename)
		if modelResolvers != nil && !r.modelExists(modelResolvers, typename, storeID) {
			data[name] = nil
			return nil
		}
	}

	r.clientEdgePath = append(r.clientEdgePath, step)
	prev := prevObject(data[name], rec.ID(), name)
	v, ok := r.traverse(linked.Selections, storeID, prev)
	r.clientEdgePath = r.clientEdgePath[:len(r.clientEdgePath)-1]
	return setObject(data, name, v, ok)
}

func (r *reader) modelExists(modelResolvers map[string]*selection.ResolverField, typename string, id record.DataID) bool {
	model, ok := modelResolvers[typename]
	if !ok {
		panic(fmt.Sprintf("reader: missing model resolver for type %s", typename))
	}
	v, defined := r.readResolverValue(model, id)
	return defined && v != nil
}

func extractID(v any) record.DataID {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any:
		if id, ok := x["id"].(string); ok {
			return id
		}
	}
	panic(fmt.Sprintf("reader: expected a client edge value to be an id or an object with an id, got %v", v))
}

func responseTypename(v any, path string) string {
	if m, ok := v.(map[string]any); ok {
		if t, ok := m[record.TypenameKey].(string); ok {
			return t
		}
	}
	panic(fmt.Sprintf("reader: client edge %s to an abstract type must return __typename", path))
}

func (r *reader) markDataAsMissing() {
	r.isMissingData = true
	if n := len(r.clientEdgePath); n > 0 {
		if top := r.clientEdgePath[n-1]; top != nil {
			r.missingClientEdges = append(r.missingClientEdges, MissingClientEdge{
				Request:       top.Edge.Operation,
				DestinationID: top.DestinationID,
			})
		}
	}
}

func (r *reader) maybeAddErrorResponseFields(rec *record.Record, key string) {
	for _, e := range rec.Errors(key) {
		r.errorFields = append(r.errorFields, ErrorResponseField{
			Owner: r.fragmentName,
			Path:  errorPath(e.Path, key),
			Error: e,
		})
	}
}

func errorPath(path []any, key string) string {
	if len(path) == 0 {
		return key
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}

func (r *reader) reportUnexpectedNull(path string, action selection.RequiredAction) {
	if r.missingRequired != nil && r.missingRequired.Action == selection.RequiredThrow {
		return
	}
	field := FieldPath{Path: path, Owner: r.fragmentName}
	switch action {
	case selection.RequiredThrow:
		r.missingRequired = &MissingRequiredFields{Action: action, Field: field}
	case selection.RequiredLog:
		if r.missingRequired == nil {
			r.missingRequired = &MissingRequiredFields{Action: action}
		}
		r.missingRequired.Fields = append(r.missingRequired.Fields, field)
	}
}

func (r *reader) addMissingRequiredFields(m *MissingRequiredFields) {
	switch m.Action {
	case selection.RequiredThrow:
		if r.missingRequired == nil || r.missingRequired.Action != selection.RequiredThrow {
			r.missingRequired = &MissingRequiredFields{Action: selection.RequiredThrow, Field: m.Field}
		}
	case selection.RequiredLog:
		for _, f := range m.Fields {
			if r.missingRequired != nil && r.missingRequired.Action == selection.RequiredThrow {
				return
			}
			if r.missingRequired == nil {
				r.missingRequired = &MissingRequiredFields{Action: selection.RequiredLog}
			}
			r.missingRequired.Fields = append(r.missingRequired.Fields, f)
		}
	}
}

func (r *reader) conditionPasses(name string) bool {
	v, ok := r.vars[name]
	if !ok {
		panic(fmt.Sprintf("reader: undefined variable %s", name))
	}
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case int:
		return b != 0
	case float64:
		return b != 0
	default:
		return true
	}
}
