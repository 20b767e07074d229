package interp

// paramStr returns params[idx] as a string, or "" when missing or mistyped.
func paramStr(params []interface{}, idx int) string {
	if idx < 0 || idx >= len(params) {
		return ""
	}
	if s, ok := params[idx].(string); ok {
		return s
	}
	return ""
}

// paramInt returns params[idx] as an int. JSON decoding yields float64;
// int and int64 appear in hand-built command lists.
func paramInt(params []interface{}, idx int) int {
	if idx < 0 || idx >= len(params) {
		return 0
	}
	switch v := params[idx].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}
