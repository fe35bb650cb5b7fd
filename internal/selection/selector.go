package selection

import (
	"encoding/json"
	"reflect"

	"github.com/hanpama/graphcache/internal/record"
)

// ArgumentDefinitionKind distinguishes fragment-local arguments from
// arguments taken from the operation.
type ArgumentDefinitionKind int

const (
	LocalArgument ArgumentDefinitionKind = iota
	RootArgument
)

type ArgumentDefinition struct {
	Kind         ArgumentDefinitionKind
	Name         string
	DefaultValue any
}

// RequestDescriptor identifies the request that owns a selector.
type RequestDescriptor struct {
	Identifier  string
	Name        string
	Variables   map[string]any
	CacheConfig map[string]any
}

// NewRequestDescriptor derives the identifier from the operation name and
// its variables.
func NewRequestDescriptor(name string, vars map[string]any, cacheConfig map[string]any) *RequestDescriptor {
	if vars == nil {
		vars = map[string]any{}
	}
	b, err := json.Marshal(vars)
	if err != nil {
		b = []byte("{}")
	}
	return &RequestDescriptor{Identifier: name + string(b), Name: name, Variables: vars, CacheConfig: cacheConfig}
}

// ClientEdgeTraversal is one step of a path through client edges to
// server objects. A nil step marks a boundary that hides outer edges.
type ClientEdgeTraversal struct {
	Edge          *ClientEdgeToServerObject
	DestinationID record.DataID
}

// Selector binds a fragment to a record and variables.
type Selector struct {
	Node                            *Fragment
	DataID                          record.DataID
	Variables                       map[string]any
	Owner                           *RequestDescriptor
	IsWithinUnmatchedTypeRefinement bool
	ClientEdgeTraversalPath         []*ClientEdgeTraversal
}

// Equal compares selectors structurally: same node, record, variables and
// owning request.
func Equal(a, b Selector) bool {
	if a.Node != b.Node || a.DataID != b.DataID {
		return false
	}
	if !reflect.DeepEqual(normalizeVars(a.Variables), normalizeVars(b.Variables)) {
		return false
	}
	return ownersEqual(a.Owner, b.Owner)
}

func ownersEqual(a, b *RequestDescriptor) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Identifier == b.Identifier && reflect.DeepEqual(a.CacheConfig, b.CacheConfig)
}

func normalizeVars(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

// Operation is an executable request rooted at the root record.
type Operation struct {
	Request *RequestDescriptor
	Root    Selector
}

// NewOperation binds node to vars, filling in declared defaults.
func NewOperation(node *Fragment, vars map[string]any, cacheConfig map[string]any) *Operation {
	opVars := OperationVariables(node, vars)
	req := NewRequestDescriptor(node.Name, opVars, cacheConfig)
	return &Operation{
		Request: req,
		Root:    Selector{Node: node, DataID: record.RootID, Variables: opVars, Owner: req},
	}
}

// OperationVariables applies the defaults of node's argument definitions.
func OperationVariables(node *Fragment, vars map[string]any) map[string]any {
	out := make(map[string]any, len(node.ArgumentDefinitions))
	for _, def := range node.ArgumentDefinitions {
		v, ok := vars[def.Name]
		if !ok || v == nil {
			v = def.DefaultValue
		}
		out[def.Name] = v
	}
	for k, v := range vars {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// FragmentVariables computes the variables a fragment is read with: spread
// arguments win, then local defaults, then root variables.
func FragmentVariables(f *Fragment, rootVars, argVars map[string]any) map[string]any {
	out := make(map[string]any, len(argVars)+len(f.ArgumentDefinitions))
	for k, v := range argVars {
		out[k] = v
	}
	for _, def := range f.ArgumentDefinitions {
		if _, ok := argVars[def.Name]; ok {
			continue
		}
		switch def.Kind {
		case LocalArgument:
			out[def.Name] = def.DefaultValue
		case RootArgument:
			out[def.Name] = rootVars[def.Name]
		}
	}
	return out
}

// LocalVariables overlays the arguments of a module or spread onto the
// current variables using defs.
func LocalVariables(current map[string]any, defs []ArgumentDefinition, args []Argument) map[string]any {
	if defs == nil {
		return current
	}
	next := make(map[string]any, len(current)+len(defs))
	for k, v := range current {
		next[k] = v
	}
	values := ArgumentValues(args, current)
	for _, def := range defs {
		v := values[def.Name]
		if v == nil {
			v = def.DefaultValue
		}
		next[def.Name] = v
	}
	return next
}
