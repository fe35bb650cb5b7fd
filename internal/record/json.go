package record

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Wire keys of the JSON record format.
const (
	refKey           = "__ref"
	refsKey          = "__refs"
	actorKey         = "__actor_identifier"
	errorsKey        = "__errors"
	invalidatedAtKey = "__invalidated_at"
)

// ToWire converts r into plain maps and slices: links become {"__ref": id},
// plural links {"__refs": [...]} with null items, actor links carry
// "__actor_identifier".
func ToWire(r *Record) map[string]any {
	out := make(map[string]any, len(r.fields)+3)
	out[IDKey] = r.id
	if r.typename != "" {
		out[TypenameKey] = r.typename
	}
	for k, v := range r.fields {
		out[k] = valueToWire(v)
	}
	if len(r.errors) > 0 {
		errs := make(map[string]any, len(r.errors))
		for k, list := range r.errors {
			items := make([]any, len(list))
			for i, e := range list {
				item := map[string]any{"message": e.Message}
				if len(e.Path) > 0 {
					item["path"] = e.Path
				}
				if e.Severity != "" {
					item["severity"] = e.Severity
				}
				items[i] = item
			}
			errs[k] = items
		}
		out[errorsKey] = errs
	}
	if r.invalidated {
		out[invalidatedAtKey] = float64(r.invalidatedAt)
	}
	return out
}

func valueToWire(v any) any {
	switch l := v.(type) {
	case Link:
		return map[string]any{refKey: l.ID}
	case ActorLink:
		return map[string]any{refKey: l.ID, actorKey: l.Actor}
	case PluralLink:
		refs := make([]any, len(l.IDs))
		for i, id := range l.IDs {
			if id == "" {
				refs[i] = nil
			} else {
				refs[i] = id
			}
		}
		return map[string]any{refsKey: refs}
	default:
		return v
	}
}

// FromWire is the inverse of ToWire.
func FromWire(m map[string]any) (*Record, error) {
	id, ok := m[IDKey].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("record is missing %s", IDKey)
	}
	typename, _ := m[TypenameKey].(string)
	r := New(id, typename)
	for k, v := range m {
		switch k {
		case IDKey, TypenameKey:
			continue
		case invalidatedAtKey:
			epoch, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("record %s: %s must be a number", id, k)
			}
			r.SetInvalidationEpoch(int64(epoch))
		case errorsKey:
			if err := decodeErrors(r, v); err != nil {
				return nil, fmt.Errorf("record %s: %w", id, err)
			}
		default:
			val, err := valueFromWire(v)
			if err != nil {
				return nil, fmt.Errorf("record %s field %s: %w", id, k, err)
			}
			r.fields[k] = val
		}
	}
	return r, nil
}

func valueFromWire(v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	if ref, ok := obj[refKey]; ok {
		id, ok := ref.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", refKey)
		}
		if actor, ok := obj[actorKey].(string); ok {
			return ActorLink{Actor: actor, ID: id}, nil
		}
		return Link{ID: id}, nil
	}
	if refs, ok := obj[refsKey]; ok {
		list, ok := refs.([]any)
		if !ok {
			return nil, fmt.Errorf("%s must be a list", refsKey)
		}
		ids := make([]DataID, len(list))
		for i, item := range list {
			switch id := item.(type) {
			case nil:
			case string:
				ids[i] = id
			default:
				return nil, fmt.Errorf("%s[%d] must be a string or null", refsKey, i)
			}
		}
		return PluralLink{IDs: ids}, nil
	}
	return v, nil
}

func decodeErrors(r *Record, v any) error {
	byKey, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%s must be an object", errorsKey)
	}
	for k, raw := range byKey {
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%s.%s must be a list", errorsKey, k)
		}
		errs := make([]FieldError, 0, len(list))
		for _, item := range list {
			obj, _ := item.(map[string]any)
			msg, _ := obj["message"].(string)
			path, _ := obj["path"].([]any)
			sev, _ := obj["severity"].(string)
			errs = append(errs, FieldError{Message: msg, Path: path, Severity: sev})
		}
		r.SetErrors(k, errs)
	}
	return nil
}

// SourceToWire converts every record of src except resolver cache entries.
// Nonexistent records map to nil.
func SourceToWire(src Source) map[string]any {
	out := map[string]any{}
	ids := src.IDs()
	slices.Sort(ids)
	for _, id := range ids {
		switch src.Status(id) {
		case Nonexistent:
			out[id] = nil
		case Existent:
			r := src.Get(id)
			if r.IsResolver() {
				continue
			}
			out[id] = ToWire(r)
		}
	}
	return out
}

// MarshalSource encodes src as a JSON object keyed by record id.
func MarshalSource(src Source) ([]byte, error) {
	return json.Marshal(SourceToWire(src))
}

// UnmarshalSource decodes the output of MarshalSource.
func UnmarshalSource(data []byte) (*MapSource, error) {
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode record source: %w", err)
	}
	src := NewMapSource()
	for id, m := range raw {
		if m == nil {
			src.Delete(id)
			continue
		}
		if _, ok := m[IDKey]; !ok {
			m[IDKey] = id
		}
		r, err := FromWire(m)
		if err != nil {
			return nil, err
		}
		src.Set(id, r)
	}
	return src, nil
}
