// Package reqid tags a context with the id of the request or notify cycle
// it belongs to, so telemetry can pair start and finish events.
package reqid

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// key is the context key for the request ID.
type key struct{}

// NewContext returns a copy of parent with a new request ID stored.
// It also returns the generated ID. IDs sort by creation time.
func NewContext(parent context.Context) (context.Context, ulid.ULID) {
	id := ulid.Make()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (ulid.ULID, bool) {
	v := ctx.Value(key{})
	id, ok := v.(ulid.ULID)
	return id, ok
}

// Ensure returns ctx when it already carries an ID, and a tagged copy
// otherwise.
func Ensure(ctx context.Context) (context.Context, ulid.ULID) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	return NewContext(ctx)
}
