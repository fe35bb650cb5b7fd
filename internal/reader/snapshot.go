package reader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/selection"
)

// Snapshot is the result of reading a selector.
type Snapshot struct {
	Selector selection.Selector
	// Data is a map[string]any tree. Undefined fields are absent keys and
	// null fields hold nil.
	Data          any
	IsMissingData bool
	SeenRecords   record.IDSet

	MissingRequiredFields     *MissingRequiredFields
	ErrorResponseFields       []ErrorResponseField
	MissingClientEdges        []MissingClientEdge
	MissingLiveResolverFields []MissingLiveResolverField
	ResolverErrors            []ResolverError
}

// FieldPath locates a field inside the fragment that owns it.
type FieldPath struct {
	Path  string
	Owner string
}

// MissingRequiredFields records @required violations. A THROW violation
// keeps only the first Field; LOG violations accumulate in Fields.
type MissingRequiredFields struct {
	Action selection.RequiredAction
	Field  FieldPath
	Fields []FieldPath
}

// ErrorResponseField is a server error found on a null field. To is set
// once an enclosing @catch handled it.
type ErrorResponseField struct {
	Owner string
	Path  string
	Error record.FieldError
	To    selection.CatchTo
}

// MissingClientEdge names the query that would fetch a server object a
// client edge pointed to.
type MissingClientEdge struct {
	Request       string
	DestinationID record.DataID
}

// MissingLiveResolverField is a live field whose state asked to suspend.
type MissingLiveResolverField struct {
	Path        string
	LiveStateID record.DataID
}

// ResolverError is an error a resolver reported while computing a field.
type ResolverError struct {
	Field FieldPath
	Err   error
}

// Field log event kinds.
const (
	LogMissingRequiredField      = "missing_required_field.log"
	LogMissingRequiredFieldThrow = "missing_required_field.throw"
	LogResolverError             = "resolver.error"
	LogFieldPayloadError         = "field_payload.error"
)

// FieldLogEvent describes a field-level condition reported at the read
// boundary.
type FieldLogEvent struct {
	Kind      string
	Owner     string
	FieldPath string
	Err       error
}

// FieldLogger receives field-level diagnostics.
type FieldLogger func(FieldLogEvent)

// GlogFieldLogger writes field diagnostics as glog warnings.
func GlogFieldLogger(e FieldLogEvent) {
	if e.Err != nil {
		glog.Warningf("%s: %s.%s: %v", e.Kind, e.Owner, e.FieldPath, e.Err)
		return
	}
	glog.Warningf("%s: %s.%s", e.Kind, e.Owner, e.FieldPath)
}

// RequiredFieldError is returned for a @required(action: THROW) violation.
type RequiredFieldError struct {
	Owner string
	Path  string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("missing @required value at path '%s' in '%s'", e.Path, e.Owner)
}

// FieldError is returned for server field errors no @catch handled.
type FieldError struct {
	Fields []ErrorResponseField
}

func (e *FieldError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = fmt.Sprintf("%s.%s: %s", f.Owner, f.Path, f.Error.Message)
	}
	return "unexpected response payload: " + strings.Join(msgs, "; ")
}

// ResolverFailure is returned for resolver errors when field errors are
// raised.
type ResolverFailure struct {
	Field FieldPath
	Err   error
}

func (e *ResolverFailure) Error() string {
	return fmt.Sprintf("resolver %s.%s: %v", e.Field.Owner, e.Field.Path, e.Err)
}

func (e *ResolverFailure) Unwrap() error { return e.Err }

// Err turns the snapshot diagnostics into an error at the point the data
// is consumed. Resolver errors and LOG violations go to logger. With
// throwOnFieldError, uncaught server field errors and resolver errors are
// returned as well. A THROW violation is always returned.
func (s *Snapshot) Err(logger FieldLogger, throwOnFieldError bool) error {
	if logger == nil {
		logger = GlogFieldLogger
	}
	var errs []error
	for _, re := range s.ResolverErrors {
		logger(FieldLogEvent{Kind: LogResolverError, Owner: re.Field.Owner, FieldPath: re.Field.Path, Err: re.Err})
	}
	if throwOnFieldError {
		var uncaught []ErrorResponseField
		for _, f := range s.ErrorResponseFields {
			logger(FieldLogEvent{Kind: LogFieldPayloadError, Owner: f.Owner, FieldPath: f.Path, Err: errors.New(f.Error.Message)})
			if f.To == "" {
				uncaught = append(uncaught, f)
			}
		}
		if len(uncaught) > 0 {
			errs = append(errs, &FieldError{Fields: uncaught})
		}
		for _, re := range s.ResolverErrors {
			errs = append(errs, &ResolverFailure{Field: re.Field, Err: re.Err})
		}
	}
	if m := s.MissingRequiredFields; m != nil {
		switch m.Action {
		case selection.RequiredThrow:
			logger(FieldLogEvent{Kind: LogMissingRequiredFieldThrow, Owner: m.Field.Owner, FieldPath: m.Field.Path})
			errs = append(errs, &RequiredFieldError{Owner: m.Field.Owner, Path: m.Field.Path})
		case selection.RequiredLog:
			for _, f := range m.Fields {
				logger(FieldLogEvent{Kind: LogMissingRequiredField, Owner: f.Owner, FieldPath: f.Path})
			}
		}
	}
	return errors.Join(errs...)
}
