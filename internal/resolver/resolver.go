// Package resolver defines the contract between the cache and user supplied
// resolver functions.
//
// A resolver never panics or unwinds to report a condition: it returns an
// Outcome saying whether it produced a value, lacks input data, wants the
// caller to suspend, failed, or hands back an externally mutable LiveState.
package resolver

import "fmt"

// Kind tells the variants of an Outcome apart.
type Kind int

const (
	KindValue Kind = iota
	KindMissing
	KindSuspend
	KindError
	KindLive
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindMissing:
		return "missing"
	case KindSuspend:
		return "suspend"
	case KindError:
		return "error"
	case KindLive:
		return "live"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome is the result of evaluating a resolver or reading a LiveState.
type Outcome struct {
	kind  Kind
	value any
	err   error
	live  LiveState
}

// Value wraps a computed value. nil is a valid value.
func Value(v any) Outcome { return Outcome{kind: KindValue, value: v} }

// Missing reports that the resolver's input fragment had missing data.
func Missing() Outcome { return Outcome{kind: KindMissing} }

// Suspend asks the reader to treat the field as pending until the backing
// live state changes.
func Suspend() Outcome { return Outcome{kind: KindSuspend} }

// Fail reports a resolver error. It is captured on the snapshot and never
// aborts the read.
func Fail(err error) Outcome { return Outcome{kind: KindError, err: err} }

// Live hands the cache an external state to subscribe to.
func Live(s LiveState) Outcome { return Outcome{kind: KindLive, live: s} }

func (o Outcome) Kind() Kind           { return o.kind }
func (o Outcome) Value() any           { return o.value }
func (o Outcome) Err() error           { return o.err }
func (o Outcome) LiveState() LiveState { return o.live }

// LiveState is externally mutable state backing a live resolver.
//
// Subscribe callbacks may fire from any context; the cache only marks its
// entry dirty from inside them and re-reads lazily.
type LiveState interface {
	Read() Outcome
	Subscribe(onChange func()) (unsubscribe func())
}

// Func computes a derived field. data is the resolver's fragment data read
// from the parent record, or nil when the resolver declares no fragment.
// args holds the field arguments bound to the current variables.
type Func func(data any, args map[string]any) Outcome
