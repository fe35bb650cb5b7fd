// Package checker decides whether a selector can be fulfilled from the
// records already in a source, across actors.
package checker

import (
	"fmt"

	"github.com/hanpama/graphcache/internal/mutator"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

// SchemaTypename is the typename of the records describing abstract type
// membership.
const SchemaTypename = "__TypeSchema"

type Status int

const (
	Available Status = iota
	Missing
)

func (s Status) String() string {
	if s == Missing {
		return "missing"
	}
	return "available"
}

// Availability is the result of a check.
type Availability struct {
	Status Status
	// MostRecentlyInvalidatedAt is the highest invalidation epoch among the
	// traversed records. Invalidated is false when none was invalidated.
	MostRecentlyInvalidatedAt int64
	Invalidated               bool
}

// OperationLoader resolves the operation a @module field refers to. Get
// returns nil while the operation is not loaded.
type OperationLoader interface {
	Get(ref any) *selection.Fragment
}

// Options configure a check.
type Options struct {
	// GetSourceForActor returns the records of an actor.
	GetSourceForActor func(actor string) record.Source
	// GetTargetForActor returns where values synthesized by Handlers are
	// written for an actor.
	GetTargetForActor func(actor string) record.Source
	DefaultActor      string
	Handlers          []MissingFieldHandler
	OperationLoader   OperationLoader
}

// Check traverses sel and reports whether every field it selects is known.
func Check(sel selection.Selector, opts Options) Availability {
	vars := sel.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	c := &checker{
		opts:     opts,
		vars:     vars,
		mutators: map[string]*mutator.Mutator{},
	}
	c.source = opts.GetSourceForActor(opts.DefaultActor)
	c.mutator = c.mutatorFor(opts.DefaultActor)
	return c.check(sel.Node, sel.DataID)
}

type checker struct {
	opts     Options
	vars     map[string]any
	source   record.Source
	mutator  *mutator.Mutator
	mutators map[string]*mutator.Mutator

	recordWasMissing          bool
	mostRecentlyInvalidatedAt int64
	invalidated               bool
}

func (c *checker) mutatorFor(actor string) *mutator.Mutator {
	m, ok := c.mutators[actor]
	if !ok {
		m = mutator.New(c.opts.GetSourceForActor(actor), c.opts.GetTargetForActor(actor))
		c.mutators[actor] = m
	}
	return m
}

func (c *checker) check(node *selection.Fragment, id record.DataID) Availability {
	c.assignClientAbstractTypes(node)
	c.traverse(node.Selections, id)
	status := Available
	if c.recordWasMissing {
		status = Missing
	}
	return Availability{
		Status:                    status,
		MostRecentlyInvalidatedAt: c.mostRecentlyInvalidatedAt,
		Invalidated:               c.invalidated,
	}
}

func (c *checker) traverse(sels []selection.Selection, id record.DataID) {
	switch c.mutator.Status(id) {
	case record.Unknown:
		c.recordWasMissing = true
	case record.Existent:
		if rec := c.source.Get(id); rec != nil {
			if at, ok := rec.InvalidationEpoch(); ok {
				if !c.invalidated || at > c.mostRecentlyInvalidatedAt {
					c.mostRecentlyInvalidatedAt = at
				}
				c.invalidated = true
			}
		}
		c.traverseSelections(sels, id)
	}
}

func (c *checker) traverseSelections(sels []selection.Selection, id record.DataID) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *selection.ScalarField:
			c.checkScalar(s, id)
		case *selection.LinkedField:
			if s.Plural {
				c.checkPluralLink(s, id)
			} else {
				c.checkLink(s, id)
			}
		case *selection.ActorChange:
			c.checkActorChange(s, id)
		case *selection.Condition:
			if truthy(c.variable(s.Condition)) == s.PassingValue {
				c.traverseSelections(s.Selections, id)
			}
		case *selection.InlineFragment:
			c.checkInlineFragment(s, id)
		case *selection.AliasedInlineFragmentSpread:
			c.checkInlineFragment(s.Fragment, id)
		case *selection.ModuleImport:
			c.checkModuleImport(s, id)
		case *selection.Defer:
			c.traverseSelections(s.Selections, id)
		case *selection.Stream:
			c.traverseSelections(s.Selections, id)
		case *selection.FragmentSpread:
			c.checkFragmentSpread(s, id)
		case *selection.AliasedFragmentSpread:
			c.checkFragmentSpread(s.Spread, id)
		case *selection.ClientExtension:
			wasMissing := c.recordWasMissing
			c.traverseSelections(s.Selections, id)
			c.recordWasMissing = wasMissing
		case *selection.TypeDiscriminator:
			if _, known := c.implements(id, s.AbstractKey); !known {
				c.recordWasMissing = true
			}
		case *selection.ResolverField:
			c.checkResolver(s, id)
		case *selection.ClientEdgeToClientObject:
			c.checkResolver(s.Backing, id)
		case *selection.ClientEdgeToServerObject:
			c.checkResolver(s.Backing, id)
		case *selection.RequiredField:
			c.traverseSelections([]selection.Selection{s.Field}, id)
		case *selection.CatchField:
			c.traverseSelections([]selection.Selection{s.Field}, id)
		default:
			panic(fmt.Sprintf("checker: unexpected selection %T", sel))
		}
	}
}

func (c *checker) variable(name string) any {
	v, ok := c.vars[name]
	if !ok {
		panic(fmt.Sprintf("checker: undefined variable %s", name))
	}
	return v
}

func truthy(v any) bool {
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

// implements looks up whether the type of id belongs to abstractKey.
func (c *checker) implements(id record.DataID, abstractKey string) (implements, known bool) {
	typename, ok := c.mutator.Type(id)
	if !ok {
		panic(fmt.Sprintf("checker: expected record %s to have a known type", id))
	}
	v, ok := c.mutator.Value(record.TypeID(typename), abstractKey)
	if !ok || v == nil {
		return false, false
	}
	b, _ := v.(bool)
	return b, true
}

func (c *checker) checkInlineFragment(f *selection.InlineFragment, id record.DataID) {
	if f.Type == "" {
		c.traverseSelections(f.Selections, id)
		return
	}
	if f.AbstractKey == "" {
		if typename, _ := c.mutator.Type(id); typename == f.Type {
			c.traverseSelections(f.Selections, id)
		}
		return
	}
	implements, known := c.implements(id, f.AbstractKey)
	switch {
	case !known:
		c.recordWasMissing = true
	case implements:
		c.traverseSelections(f.Selections, id)
	}
}

func (c *checker) checkFragmentSpread(s *selection.FragmentSpread, id record.DataID) {
	if s.Fragment == nil {
		panic(fmt.Sprintf("checker: fragment spread %s has no fragment", s.Name))
	}
	prev := c.vars
	c.vars = selection.LocalVariables(c.vars, s.Fragment.ArgumentDefinitions, s.Args)
	c.traverseSelections(s.Fragment.Selections, id)
	c.vars = prev
}

func (c *checker) checkResolver(f *selection.ResolverField, id record.DataID) {
	if f.Fragment == nil {
		return
	}
	prev := c.vars
	c.vars = selection.LocalVariables(c.vars, f.Fragment.ArgumentDefinitions, f.FragmentArgs)
	c.traverseSelections(f.Fragment.Selections, id)
	c.vars = prev
}

func (c *checker) checkModuleImport(m *selection.ModuleImport, id record.DataID) {
	if c.opts.OperationLoader == nil {
		panic("checker: an operation loader is required to check @module fields")
	}
	ref, ok := c.mutator.Value(id, selection.ModuleOperationKey(m.DocumentName))
	if !ok {
		c.recordWasMissing = true
		return
	}
	if ref == nil {
		return
	}
	op := c.opts.OperationLoader.Get(ref)
	if op == nil {
		c.recordWasMissing = true
		return
	}
	prev := c.vars
	c.vars = selection.LocalVariables(c.vars, op.ArgumentDefinitions, m.Args)
	c.traverse(op.Selections, id)
	c.vars = prev
}

func (c *checker) checkScalar(f *selection.ScalarField, id record.DataID) {
	key := f.Key(c.vars)
	if _, ok := c.mutator.Value(id, key); ok {
		return
	}
	if v, ok := c.handleMissingScalar(f, id); ok {
		c.mutator.SetValue(id, key, v)
	}
}

func (c *checker) checkLink(f *selection.LinkedField, id record.DataID) {
	key := f.Key(c.vars)
	linked, ok := c.mutator.LinkedID(id, key)
	if !ok {
		linked, ok = c.handleMissingLink(f, id)
		if ok && linked != "" {
			c.mutator.SetLinkedID(id, key, linked)
		} else if ok {
			c.mutator.SetValue(id, key, nil)
		}
	}
	if linked != "" {
		c.traverse(f.Selections, linked)
	}
}

func (c *checker) checkPluralLink(f *selection.LinkedField, id record.DataID) {
	key := f.Key(c.vars)
	linked, ok := c.mutator.LinkedIDs(id, key)
	if !ok {
		linked, ok = c.handleMissingPluralLink(f, id)
		if ok && linked != nil {
			c.mutator.SetLinkedIDs(id, key, linked)
		} else if ok {
			c.mutator.SetValue(id, key, nil)
		}
	}
	for _, l := range linked {
		if l != "" {
			c.traverse(f.Selections, l)
		}
	}
}

func (c *checker) checkActorChange(f *selection.ActorChange, id record.DataID) {
	key := f.Key(c.vars)
	rec := c.source.Get(id)
	if rec == nil {
		c.recordWasMissing = true
		return
	}
	link, ok := rec.ActorLinkedID(key)
	if !ok {
		c.recordWasMissing = true
		return
	}
	if link == nil {
		return
	}
	prevSource, prevMutator := c.source, c.mutator
	c.source = c.opts.GetSourceForActor(link.Actor)
	c.mutator = c.mutatorFor(link.Actor)
	if f.Spread != nil && f.Spread.Fragment != nil {
		c.assignClientAbstractTypes(f.Spread.Fragment)
	}
	c.traverse(f.Selections, link.ID)
	c.source, c.mutator = prevSource, prevMutator
}

// assignClientAbstractTypes records the membership of client-only abstract
// types, which the server never reports.
func (c *checker) assignClientAbstractTypes(node *selection.Fragment) {
	for abstractType, concreteTypes := range node.ClientAbstractTypes {
		for _, concrete := range concreteTypes {
			typeID := record.TypeID(concrete)
			if c.source.Get(typeID) == nil && c.mutator.Status(typeID) != record.Existent {
				c.mutator.Create(typeID, SchemaTypename)
			}
			if v, ok := c.mutator.Value(typeID, abstractType); !ok || v == nil {
				c.mutator.SetValue(typeID, abstractType, true)
			}
		}
	}
}
