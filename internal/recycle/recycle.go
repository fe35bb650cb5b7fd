// Package recycle reuses previously read objects when a new read produced
// equal data, so callers can skip work by comparing references.
package recycle

import "reflect"

// Nodes returns prev when next is deeply equal to it. Otherwise it returns
// next with every equal sub-object of prev swapped in place of the fresh one.
// Only map[string]any and []any values are recycled; next is updated in
// place.
func Nodes(prev, next any) any {
	switch n := next.(type) {
	case map[string]any:
		p, ok := prev.(map[string]any)
		if !ok || p == nil || n == nil {
			return next
		}
		if Same(p, n) {
			return next
		}
		canRecycle := len(p) == len(n)
		for k, nv := range n {
			pv, had := p[k]
			v := Nodes(pv, nv)
			if !Same(v, nv) {
				n[k] = v
			}
			canRecycle = canRecycle && had && Same(v, pv)
		}
		if canRecycle {
			return p
		}
		return n
	case []any:
		p, ok := prev.([]any)
		if !ok || p == nil || n == nil {
			return next
		}
		if Same(p, n) {
			return next
		}
		canRecycle := len(p) == len(n)
		for i, nv := range n {
			var pv any
			if i < len(p) {
				pv = p[i]
			}
			v := Nodes(pv, nv)
			if !Same(v, nv) {
				n[i] = v
			}
			canRecycle = canRecycle && Same(v, pv)
		}
		if canRecycle {
			return p
		}
		return n
	default:
		return next
	}
}

// Same reports whether a and b are the same value: identical maps or slices
// by reference, everything else by equality.
func Same(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return reflect.ValueOf(av).UnsafePointer() == reflect.ValueOf(bv).UnsafePointer()
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == nil && bv == nil
		}
		return len(av) == len(bv) && reflect.ValueOf(av).UnsafePointer() == reflect.ValueOf(bv).UnsafePointer()
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
