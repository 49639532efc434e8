package memory

import "reflect"

// Snapshot 会话的结构化记忆
// Snapshot is the structured fact record attached to a session.
type Snapshot = map[string]any

// Merge 将 delta 递归合并进 current，返回新的映射
// Merge folds delta into current key by key and returns a new mapping.
//
// Lists in delta replace the current value wholesale, nested maps recurse
// (a missing or non-map current value counts as empty) and every other value
// overwrites. Keys only present in current are kept. Neither input is
// modified.
func Merge(current, delta map[string]any) map[string]any {
	out := Clone(current)
	if out == nil {
		out = map[string]any{}
	}
	for key, value := range delta {
		switch v := value.(type) {
		case map[string]any:
			existing, _ := out[key].(map[string]any)
			out[key] = Merge(existing, v)
		default:
			out[key] = cloneValue(v)
		}
	}
	return out
}

// Clone deep-copies maps and slices so callers can hand out snapshots
// without sharing nested state.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && !rv.IsNil() {
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	}
	return v
}
