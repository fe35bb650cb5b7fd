// Package language wraps the GraphQL parser used to load schemas and the
// documents selection trees are built from.
package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// Error is a located GraphQL error.
type Error = gqlerror.Error

// ParseQuery parses an executable document. Syntax errors are returned as
// *Error.
func ParseQuery(source string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates SDL together with the built-in scalars
// and directives. extra sources, such as client directive definitions, are
// loaded alongside.
func LoadSchema(name, source string, extra ...*ast.Source) (*ast.Schema, error) {
	sources := append([]*ast.Source{{Name: name, Input: source}}, extra...)
	s, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
