package router

import "encoding/json"

// Transform maps a data payload or completion result to the value forwarded
// along a route.
type Transform func(payload any) any

// Pick projects the named keys out of an object payload. Keys missing from
// the payload are omitted; a payload that is not an object yields an empty
// object.
func Pick(keys ...string) Transform {
	return func(payload any) any {
		out := make(map[string]any, len(keys))
		m, ok := asMap(payload)
		if !ok {
			return out
		}
		for _, k := range keys {
			if v, present := m[k]; present {
				out[k] = v
			}
		}
		return out
	}
}

// asMap views v as a JSON object, round-tripping structs through JSON.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// parameters turns a chained result into an intent parameter object.
func parameters(v any) map[string]any {
	if m, ok := asMap(v); ok {
		return m
	}
	if v == nil {
		return map[string]any{}
	}
	return map[string]any{"result": v}
}
