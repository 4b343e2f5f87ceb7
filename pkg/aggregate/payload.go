package aggregate

// Payload accessors. Event payloads are decoded JSON trees; folds read them
// through these helpers so a malformed or missing field degrades to the zero
// value instead of panicking.

func payloadString(p map[string]interface{}, key string) string {
	if p == nil {
		return ""
	}
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func payloadFloat(p map[string]interface{}, key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func payloadInt(p map[string]interface{}, key string) int64 {
	f, ok := payloadFloat(p, key)
	if !ok {
		return 0
	}
	return int64(f)
}

func payloadMap(p map[string]interface{}, key string) map[string]interface{} {
	if p == nil {
		return nil
	}
	if m, ok := p[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func payloadSlice(p map[string]interface{}, key string) []interface{} {
	if p == nil {
		return nil
	}
	if s, ok := p[key].([]interface{}); ok {
		return s
	}
	return nil
}

func payloadStringSlice(p map[string]interface{}, key string) []string {
	raw := payloadSlice(p, key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func payloadStringMap(p map[string]interface{}, key string) map[string]string {
	m := payloadMap(p, key)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
