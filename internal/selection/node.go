// Package selection defines the compiled selection tree that readers and
// checkers walk. The set of node types is closed: every traversal switches
// over them exhaustively and panics on anything else.
package selection

import (
	"github.com/hanpama/graphcache/internal/resolver"
)

// Selection is a node in a selection tree.
type Selection interface {
	isSelection()
}

// Fragment is the root of a selection tree: a named fragment, or an
// operation when it is rooted at the root record.
type Fragment struct {
	Name string
	// Type is the type condition. AbstractKey is set when Type is an
	// interface or union and names the "__is<Type>" schema record key.
	Type                string
	AbstractKey         string
	Selections          []Selection
	ArgumentDefinitions []ArgumentDefinition
	// ClientAbstractTypes maps the abstract keys of client-only abstract
	// types to their concrete members; checkers seed the matching schema
	// records before traversal.
	ClientAbstractTypes map[string][]string
}

type ScalarField struct {
	Alias      string
	Name       string
	Args       []Argument
	StorageKey string
}

type LinkedField struct {
	Alias        string
	Name         string
	Args         []Argument
	StorageKey   string
	ConcreteType string
	Plural       bool
	Selections   []Selection
}

// InlineFragment refines on Type. A zero Type applies the selections
// unconditionally.
type InlineFragment struct {
	Type        string
	AbstractKey string
	Selections  []Selection
}

// Condition applies its selections when the boolean variable named by
// Condition equals PassingValue.
type Condition struct {
	Condition    string
	PassingValue bool
	Selections   []Selection
}

// FragmentSpread produces a fragment pointer for Name. Fragment is the
// spread fragment when it is known; checkers descend into it.
type FragmentSpread struct {
	Name     string
	Args     []Argument
	Fragment *Fragment
}

// AliasedFragmentSpread stores the fragment pointer under Name when the
// record matches the fragment's type.
type AliasedFragmentSpread struct {
	Name        string
	Type        string
	AbstractKey string
	Spread      *FragmentSpread
}

// AliasedInlineFragmentSpread reads Fragment into its own object under Name.
type AliasedInlineFragmentSpread struct {
	Name     string
	Fragment *InlineFragment
}

// OutputKind selects how a resolver's value is turned into records.
type OutputKind int

const (
	// OutputType values are normalized through Selections into records.
	OutputType OutputKind = iota + 1
	// WeakModel values are stored opaquely on a single client record.
	WeakModel
)

// ResolverOutput describes a resolver that returns objects which become
// client records instead of a plain scalar.
type ResolverOutput struct {
	Kind OutputKind
	// ConcreteType is empty for abstract outputs, whose values must carry
	// "__typename".
	ConcreteType string
	Plural       bool
	Selections   []Selection
}

// ResolverField is a derived field computed by Resolve from the data of
// Fragment read on the parent record.
type ResolverField struct {
	Alias        string
	Name         string
	Args         []Argument
	StorageKey   string
	Fragment     *Fragment
	FragmentArgs []Argument
	Resolve      resolver.Func
	Live         bool
	// Path is the field path reported in diagnostics.
	Path   string
	Output *ResolverOutput
}

// ClientEdgeToClientObject is a resolver whose value identifies one or more
// client-only objects that are then read as a linked field.
type ClientEdgeToClientObject struct {
	ConcreteType   string
	ModelResolvers map[string]*ResolverField
	Backing        *ResolverField
	Linked         *LinkedField
}

// ClientEdgeToServerObject is a resolver whose value is the id of a server
// object. When that object is missing, Operation names the query that
// fetches it.
type ClientEdgeToServerObject struct {
	Operation string
	Backing   *ResolverField
	Linked    *LinkedField
}

// ModuleImport selects a fragment and component chosen at runtime.
type ModuleImport struct {
	DocumentName     string
	FragmentName     string
	FragmentPropName string
	Args             []Argument
	// ArgumentDefinitions of the loaded operation, used for local variables.
	ArgumentDefinitions []ArgumentDefinition
}

type Defer struct {
	Label      string
	If         string
	Selections []Selection
}

type Stream struct {
	Label      string
	If         string
	Selections []Selection
}

// ClientExtension groups client-only fields; data below it is never
// expected from the server.
type ClientExtension struct {
	Selections []Selection
}

// ActorChange crosses into the store of another actor. Readers return a
// fragment reference for Spread; checkers traverse Selections in the
// target actor's source.
type ActorChange struct {
	Alias      string
	Name       string
	Args       []Argument
	StorageKey string
	Plural     bool
	Spread     *FragmentSpread
	Selections []Selection
}

// RequiredAction is what happens when a @required field is null.
type RequiredAction string

const (
	RequiredNone  RequiredAction = "NONE"
	RequiredLog   RequiredAction = "LOG"
	RequiredThrow RequiredAction = "THROW"
)

// RequiredField nulls out its parent object when Field reads null.
type RequiredField struct {
	Field  Selection
	Action RequiredAction
	Path   string
}

// CatchTo selects how caught errors are surfaced.
type CatchTo string

const (
	CatchResult CatchTo = "RESULT"
	CatchNull   CatchTo = "NULL"
)

// CatchField turns errors raised while reading Field into a value.
type CatchField struct {
	Field Selection
	To    CatchTo
	Path  string
}

// TypeDiscriminator asks checkers to record abstract type membership.
type TypeDiscriminator struct {
	AbstractKey string
}

func (*ScalarField) isSelection()                 {}
func (*LinkedField) isSelection()                 {}
func (*InlineFragment) isSelection()              {}
func (*Condition) isSelection()                   {}
func (*FragmentSpread) isSelection()              {}
func (*AliasedFragmentSpread) isSelection()       {}
func (*AliasedInlineFragmentSpread) isSelection() {}
func (*ResolverField) isSelection()               {}
func (*ClientEdgeToClientObject) isSelection()    {}
func (*ClientEdgeToServerObject) isSelection()    {}
func (*ModuleImport) isSelection()                {}
func (*Defer) isSelection()                       {}
func (*Stream) isSelection()                      {}
func (*ClientExtension) isSelection()             {}
func (*ActorChange) isSelection()                 {}
func (*RequiredField) isSelection()               {}
func (*CatchField) isSelection()                  {}
func (*TypeDiscriminator) isSelection()           {}

func responseKey(alias, name string) string {
	if alias != "" {
		return alias
	}
	return name
}

func (f *ScalarField) ResponseKey() string   { return responseKey(f.Alias, f.Name) }
func (f *LinkedField) ResponseKey() string   { return responseKey(f.Alias, f.Name) }
func (f *ResolverField) ResponseKey() string { return responseKey(f.Alias, f.Name) }
func (f *ActorChange) ResponseKey() string   { return responseKey(f.Alias, f.Name) }

func (f *ScalarField) Key(vars map[string]any) string {
	return storageKey(f.Name, f.StorageKey, f.Args, vars)
}

func (f *LinkedField) Key(vars map[string]any) string {
	return storageKey(f.Name, f.StorageKey, f.Args, vars)
}

func (f *ResolverField) Key(vars map[string]any) string {
	return storageKey(f.Name, f.StorageKey, f.Args, vars)
}

func (f *ActorChange) Key(vars map[string]any) string {
	return storageKey(f.Name, f.StorageKey, f.Args, vars)
}

// FragmentKey identifies the resolver's fragment read on a parent record.
// Dependency tracking groups cache entries by it.
func (f *ResolverField) FragmentKey(vars map[string]any) string {
	if f.Fragment == nil {
		return ""
	}
	return storageKey(f.Fragment.Name, "", f.FragmentArgs, vars)
}

// ModuleComponentKey is the record key holding the component chosen for a
// module import of document.
func ModuleComponentKey(document string) string { return "__module_component_" + document }

// ModuleOperationKey is the record key holding the operation chosen for a
// module import of document.
func ModuleOperationKey(document string) string { return "__module_operation_" + document }
