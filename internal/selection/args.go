package selection

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ArgumentKind tells the variants of an Argument apart.
type ArgumentKind int

const (
	LiteralArgument ArgumentKind = iota
	VariableArgument
	ObjectArgument
	ListArgument
)

// Argument is a field or fragment argument. Literal arguments carry Value,
// variable arguments name a Variable, object and list arguments nest.
type Argument struct {
	Name     string
	Kind     ArgumentKind
	Value    any
	Variable string
	Fields   []Argument
	Items    []*Argument
}

func Literal(name string, v any) Argument {
	return Argument{Name: name, Kind: LiteralArgument, Value: v}
}

func Variable(name, variable string) Argument {
	return Argument{Name: name, Kind: VariableArgument, Variable: variable}
}

func ObjectValue(name string, fields ...Argument) Argument {
	return Argument{Name: name, Kind: ObjectArgument, Fields: fields}
}

// ListValue builds a list argument; nil items are nulls.
func ListValue(name string, items ...*Argument) Argument {
	return Argument{Name: name, Kind: ListArgument, Items: items}
}

func (a Argument) value(vars map[string]any) any {
	switch a.Kind {
	case VariableArgument:
		return vars[a.Variable]
	case ObjectArgument:
		obj := make(map[string]any, len(a.Fields))
		for _, f := range a.Fields {
			obj[f.Name] = f.value(vars)
		}
		return obj
	case ListArgument:
		list := make([]any, len(a.Items))
		for i, item := range a.Items {
			if item != nil {
				list[i] = item.value(vars)
			}
		}
		return list
	default:
		return a.Value
	}
}

// ArgumentValues binds args to vars.
func ArgumentValues(args []Argument, vars map[string]any) map[string]any {
	values := make(map[string]any, len(args))
	for _, a := range args {
		values[a.Name] = a.value(vars)
	}
	return values
}

// FormatStorageKey renders name(arg:json,...) with arguments in name order.
// Null arguments are omitted; a field without non-null arguments is keyed by
// its bare name.
func FormatStorageKey(name string, values map[string]any) string {
	if len(values) == 0 {
		return name
	}
	names := make([]string, 0, len(values))
	for n, v := range values {
		if v != nil {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return name
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		b, err := json.Marshal(values[n])
		if err != nil {
			panic(fmt.Sprintf("selection: argument %s of %s is not serializable: %v", n, name, err))
		}
		parts[i] = n + ":" + string(b)
	}
	return name + "(" + strings.Join(parts, ",") + ")"
}

func storageKey(name, precomputed string, args []Argument, vars map[string]any) string {
	if precomputed != "" {
		return precomputed
	}
	if len(args) == 0 {
		return name
	}
	return FormatStorageKey(name, ArgumentValues(args, vars))
}
