// Package gqlselect builds selection trees from GraphQL documents checked
// against a schema. It covers fields, aliases, arguments, inline
// fragments, fragment spreads and the @include, @skip, @required, @catch
// and @defer directives.
package gqlselect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/hanpama/graphcache/internal/checker"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

// ClientDirectives defines the directives understood by the builder that
// are not part of the GraphQL prelude. Load it next to the schema SDL.
var ClientDirectives = &ast.Source{
	Name:    "client_directives.graphql",
	BuiltIn: true,
	Input: `
enum RequiredFieldAction { NONE LOG THROW }
directive @required(action: RequiredFieldAction!) on FIELD
enum CatchFieldTo { RESULT NULL }
directive @catch(to: CatchFieldTo = RESULT) on FIELD
`,
}

// LoadSchema loads sdl with the client directives.
func LoadSchema(name, sdl string) (*ast.Schema, error) {
	return language.LoadSchema(name, sdl, ClientDirectives)
}

// Document holds the operations and fragments of one GraphQL document.
type Document struct {
	schema     *ast.Schema
	doc        *ast.QueryDocument
	fragments  map[string]*selection.Fragment
	building   map[string]bool
	operations map[string]*selection.Fragment
}

// Build parses source and builds every operation and fragment it defines.
func Build(schema *ast.Schema, source string) (*Document, error) {
	doc, err := language.ParseQuery(source)
	if err != nil {
		return nil, err
	}
	d := &Document{
		schema:     schema,
		doc:        doc,
		fragments:  map[string]*selection.Fragment{},
		building:   map[string]bool{},
		operations: map[string]*selection.Fragment{},
	}
	for _, def := range doc.Fragments {
		if _, err := d.fragment(def.Name); err != nil {
			return nil, err
		}
	}
	for _, op := range doc.Operations {
		f, err := d.operation(op)
		if err != nil {
			return nil, err
		}
		d.operations[op.Name] = f
	}
	return d, nil
}

// Operation returns the operation called name. An empty name selects the
// only operation of the document.
func (d *Document) Operation(name string) (*selection.Fragment, error) {
	if name == "" {
		if len(d.operations) != 1 {
			return nil, fmt.Errorf("document has %d operations, an operation name is required", len(d.operations))
		}
		for _, f := range d.operations {
			return f, nil
		}
	}
	f, ok := d.operations[name]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	return f, nil
}

// Fragment returns the fragment called name.
func (d *Document) Fragment(name string) (*selection.Fragment, error) {
	f, ok := d.fragments[name]
	if !ok {
		return nil, fmt.Errorf("unknown fragment %q", name)
	}
	return f, nil
}

// Names lists the operations and fragments of the document.
func (d *Document) Names() (operations, fragments []string) {
	for name := range d.operations {
		operations = append(operations, name)
	}
	for name := range d.fragments {
		fragments = append(fragments, name)
	}
	sort.Strings(operations)
	sort.Strings(fragments)
	return operations, fragments
}

func (d *Document) operation(op *ast.OperationDefinition) (*selection.Fragment, error) {
	var root *ast.Definition
	switch op.Operation {
	case ast.Query:
		root = d.schema.Query
	case ast.Mutation:
		root = d.schema.Mutation
	case ast.Subscription:
		root = d.schema.Subscription
	}
	if root == nil {
		return nil, fmt.Errorf("operation %s: schema has no %s type", op.Name, op.Operation)
	}
	b := &builder{doc: d, owner: op.Name}
	sels, err := b.selections(root, op.SelectionSet, nil)
	if err != nil {
		return nil, err
	}
	f := &selection.Fragment{Name: op.Name, Selections: sels}
	for _, v := range op.VariableDefinitions {
		def := selection.ArgumentDefinition{Kind: selection.LocalArgument, Name: v.Variable}
		if v.DefaultValue != nil {
			dv, err := v.DefaultValue.Value(nil)
			if err != nil {
				return nil, fmt.Errorf("operation %s: variable $%s: %w", op.Name, v.Variable, err)
			}
			def.DefaultValue = dv
		}
		f.ArgumentDefinitions = append(f.ArgumentDefinitions, def)
	}
	return f, nil
}

func (d *Document) fragment(name string) (*selection.Fragment, error) {
	if f, ok := d.fragments[name]; ok {
		return f, nil
	}
	if d.building[name] {
		return nil, fmt.Errorf("fragment %s spreads itself", name)
	}
	def := d.doc.Fragments.ForName(name)
	if def == nil {
		return nil, fmt.Errorf("unknown fragment %q", name)
	}
	typ := d.schema.Types[def.TypeCondition]
	if typ == nil {
		return nil, fmt.Errorf("fragment %s: unknown type %q", name, def.TypeCondition)
	}
	d.building[name] = true
	defer delete(d.building, name)

	b := &builder{doc: d, owner: name}
	sels, err := b.selections(typ, def.SelectionSet, nil)
	if err != nil {
		return nil, err
	}
	f := &selection.Fragment{Name: name, Type: typ.Name, Selections: sels}
	if isAbstract(typ) {
		f.AbstractKey = AbstractKey(typ.Name)
	}
	d.fragments[name] = f
	return f, nil
}

// AbstractKey is the schema record key telling whether a concrete type
// belongs to the abstract type typename.
func AbstractKey(typename string) string { return "__is" + typename }

func isAbstract(def *ast.Definition) bool {
	return def.Kind == ast.Interface || def.Kind == ast.Union
}

type builder struct {
	doc   *Document
	owner string
}

func (b *builder) errorf(path []string, format string, args ...any) error {
	return fmt.Errorf("%s.%s: %s", b.owner, strings.Join(path, "."), fmt.Sprintf(format, args...))
}

func (b *builder) selections(parent *ast.Definition, set ast.SelectionSet, path []string) ([]selection.Selection, error) {
	var out []selection.Selection
	for _, sel := range set {
		var (
			node selection.Selection
			dirs ast.DirectiveList
			err  error
		)
		switch sel := sel.(type) {
		case *ast.Field:
			dirs = sel.Directives
			node, err = b.field(parent, sel, path)
		case *ast.InlineFragment:
			dirs = sel.Directives
			node, err = b.inlineFragment(parent, sel, path)
		case *ast.FragmentSpread:
			dirs = sel.Directives
			node, err = b.fragmentSpread(sel)
		default:
			panic(fmt.Sprintf("gqlselect: unexpected selection %T", sel))
		}
		if err != nil {
			return nil, err
		}
		node, keep, err := b.wrapConditions(node, dirs, path)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, node)
		}
	}
	return out, nil
}

func (b *builder) field(parent *ast.Definition, f *ast.Field, path []string) (selection.Selection, error) {
	alias := ""
	if f.Alias != "" && f.Alias != f.Name {
		alias = f.Alias
	}
	key := f.Name
	if alias != "" {
		key = alias
	}
	path = append(path[:len(path):len(path)], key)

	args, err := arguments(f.Arguments)
	if err != nil {
		return nil, b.errorf(path, "%v", err)
	}
	if f.Name == record.TypenameKey {
		return &selection.ScalarField{Alias: alias, Name: f.Name}, nil
	}
	def := parent.Fields.ForName(f.Name)
	if def == nil {
		return nil, b.errorf(path, "type %s has no field %q", parent.Name, f.Name)
	}
	typ := b.doc.schema.Types[def.Type.Name()]
	if typ == nil {
		return nil, b.errorf(path, "unknown type %q", def.Type.Name())
	}

	var node selection.Selection
	if typ.Kind == ast.Object || isAbstract(typ) {
		if len(f.SelectionSet) == 0 {
			return nil, b.errorf(path, "field of type %s needs a selection set", typ.Name)
		}
		sels, err := b.selections(typ, f.SelectionSet, path)
		if err != nil {
			return nil, err
		}
		linked := &selection.LinkedField{
			Alias:      alias,
			Name:       f.Name,
			Args:       args,
			Plural:     def.Type.Elem != nil,
			Selections: sels,
		}
		if typ.Kind == ast.Object {
			linked.ConcreteType = typ.Name
		}
		node = linked
	} else {
		if len(f.SelectionSet) > 0 {
			return nil, b.errorf(path, "leaf field of type %s has a selection set", typ.Name)
		}
		node = &selection.ScalarField{Alias: alias, Name: f.Name, Args: args}
	}
	return b.wrapFieldDirectives(node, f.Directives, path)
}

// wrapFieldDirectives applies @required and then @catch.
func (b *builder) wrapFieldDirectives(node selection.Selection, dirs ast.DirectiveList, path []string) (selection.Selection, error) {
	fieldPath := strings.Join(path, ".")
	if d := dirs.ForName("required"); d != nil {
		action := directiveEnum(d, "action", "")
		switch selection.RequiredAction(action) {
		case selection.RequiredNone, selection.RequiredLog, selection.RequiredThrow:
		default:
			return nil, b.errorf(path, "invalid @required action %q", action)
		}
		node = &selection.RequiredField{Field: node, Action: selection.RequiredAction(action), Path: fieldPath}
	}
	if d := dirs.ForName("catch"); d != nil {
		to := directiveEnum(d, "to", string(selection.CatchResult))
		switch selection.CatchTo(to) {
		case selection.CatchResult, selection.CatchNull:
		default:
			return nil, b.errorf(path, "invalid @catch target %q", to)
		}
		node = &selection.CatchField{Field: node, To: selection.CatchTo(to), Path: fieldPath}
	}
	return node, nil
}

func (b *builder) inlineFragment(parent *ast.Definition, f *ast.InlineFragment, path []string) (selection.Selection, error) {
	typ := parent
	if f.TypeCondition != "" {
		typ = b.doc.schema.Types[f.TypeCondition]
		if typ == nil {
			return nil, b.errorf(path, "unknown type %q", f.TypeCondition)
		}
	}
	sels, err := b.selections(typ, f.SelectionSet, path)
	if err != nil {
		return nil, err
	}
	var node selection.Selection
	if f.TypeCondition == "" {
		node = &selection.InlineFragment{Selections: sels}
	} else {
		inline := &selection.InlineFragment{Type: typ.Name, Selections: sels}
		if isAbstract(typ) {
			inline.AbstractKey = AbstractKey(typ.Name)
		}
		node = inline
	}
	return wrapDefer(node, f.Directives)
}

func (b *builder) fragmentSpread(s *ast.FragmentSpread) (selection.Selection, error) {
	f, err := b.doc.fragment(s.Name)
	if err != nil {
		return nil, err
	}
	return wrapDefer(&selection.FragmentSpread{Name: s.Name, Fragment: f}, s.Directives)
}

func wrapDefer(node selection.Selection, dirs ast.DirectiveList) (selection.Selection, error) {
	d := dirs.ForName("defer")
	if d == nil {
		return node, nil
	}
	label := ""
	if a := d.Arguments.ForName("label"); a != nil {
		label = a.Value.Raw
	}
	return &selection.Defer{Label: label, Selections: []selection.Selection{node}}, nil
}

// wrapConditions applies @include and @skip. keep is false when a literal
// condition excludes the selection.
func (b *builder) wrapConditions(node selection.Selection, dirs ast.DirectiveList, path []string) (selection.Selection, bool, error) {
	for _, c := range []struct {
		name    string
		passing bool
	}{{"include", true}, {"skip", false}} {
		d := dirs.ForName(c.name)
		if d == nil {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil || arg.Value == nil {
			return nil, false, b.errorf(path, "@%s needs an if argument", c.name)
		}
		switch arg.Value.Kind {
		case ast.Variable:
			node = &selection.Condition{
				Condition:    arg.Value.Raw,
				PassingValue: c.passing,
				Selections:   []selection.Selection{node},
			}
		case ast.BooleanValue:
			if (arg.Value.Raw == "true") != c.passing {
				return nil, false, nil
			}
		default:
			return nil, false, b.errorf(path, "@%s(if:) must be a boolean or a variable", c.name)
		}
	}
	return node, true, nil
}

func directiveEnum(d *ast.Directive, name, fallback string) string {
	a := d.Arguments.ForName(name)
	if a == nil || a.Value == nil {
		return fallback
	}
	return a.Value.Raw
}

func arguments(list ast.ArgumentList) ([]selection.Argument, error) {
	var out []selection.Argument
	for _, a := range list {
		arg, err := argument(a.Name, a.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

func argument(name string, v *ast.Value) (selection.Argument, error) {
	switch v.Kind {
	case ast.Variable:
		return selection.Variable(name, v.Raw), nil
	case ast.ObjectValue:
		if !hasVariables(v) {
			break
		}
		fields := make([]selection.Argument, 0, len(v.Children))
		for _, c := range v.Children {
			f, err := argument(c.Name, c.Value)
			if err != nil {
				return selection.Argument{}, err
			}
			fields = append(fields, f)
		}
		return selection.ObjectValue(name, fields...), nil
	case ast.ListValue:
		if !hasVariables(v) {
			break
		}
		items := make([]*selection.Argument, 0, len(v.Children))
		for _, c := range v.Children {
			if c.Value.Kind == ast.NullValue {
				items = append(items, nil)
				continue
			}
			item, err := argument("", c.Value)
			if err != nil {
				return selection.Argument{}, err
			}
			items = append(items, &item)
		}
		return selection.ListValue(name, items...), nil
	}
	value, err := v.Value(nil)
	if err != nil {
		return selection.Argument{}, fmt.Errorf("argument %s: %w", name, err)
	}
	return selection.Literal(name, value), nil
}

func hasVariables(v *ast.Value) bool {
	if v.Kind == ast.Variable {
		return true
	}
	for _, c := range v.Children {
		if hasVariables(c.Value) {
			return true
		}
	}
	return false
}

// TypeRecords returns the schema records describing which concrete types
// belong to each interface and union of schema.
func TypeRecords(schema *ast.Schema) []*record.Record {
	records := map[string]*record.Record{}
	var abstract []string
	for name, def := range schema.Types {
		if isAbstract(def) && !def.BuiltIn {
			abstract = append(abstract, name)
		}
	}
	sort.Strings(abstract)
	for _, name := range abstract {
		for _, member := range schema.GetPossibleTypes(schema.Types[name]) {
			rec, ok := records[member.Name]
			if !ok {
				rec = record.New(record.TypeID(member.Name), checker.SchemaTypename)
				records[member.Name] = rec
			}
			rec.Set(AbstractKey(name), true)
		}
	}
	members := make([]string, 0, len(records))
	for name := range records {
		members = append(members, name)
	}
	sort.Strings(members)
	out := make([]*record.Record, len(members))
	for i, name := range members {
		out[i] = records[name]
	}
	return out
}
