package core

import (
	"bytes"
	"encoding/json"
)

// MatchFilter reports whether data satisfies filter under deep-subset
// semantics: every key in the filter must be present in data with an equal
// value, a matching nested object, or (when the filter value is an array)
// the data value must equal one of the array's elements. An empty filter
// matches everything; undecodable data never matches a non-empty filter.
func MatchFilter(filter, data json.RawMessage) bool {
	if len(filter) == 0 || bytes.Equal(filter, []byte("null")) || bytes.Equal(filter, []byte("{}")) {
		return true
	}

	var f map[string]any
	if err := json.Unmarshal(filter, &f); err != nil {
		return false
	}
	if len(f) == 0 {
		return true
	}

	var d map[string]any
	if err := json.Unmarshal(data, &d); err != nil {
		return false
	}
	return matchObject(f, d)
}

func matchObject(filter, data map[string]any) bool {
	for key, fv := range filter {
		dv, ok := data[key]
		if !ok {
			return false
		}
		if !matchValue(fv, dv) {
			return false
		}
	}
	return true
}

func matchValue(fv, dv any) bool {
	switch f := fv.(type) {
	case map[string]any:
		d, ok := dv.(map[string]any)
		if !ok {
			return false
		}
		return matchObject(f, d)
	case []any:
		// Array filter: data value must equal one of the candidates.
		for _, candidate := range f {
			if equalValue(candidate, dv) {
				return true
			}
		}
		return false
	default:
		return equalValue(fv, dv)
	}
}

func equalValue(a, b any) bool {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		return len(am) == len(bm) && matchObject(am, bm)
	}
	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equalValue(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
