package config

// Options is a free-form JSON options bag ("options": {...}) attached to
// pipeline sections whose knobs vary by kind. Accessors are forgiving about
// JSON's number/string typing; a missing or mistyped key yields the default.
type Options map[string]any

// Bool returns the boolean at key, or def when absent or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the integer at key, or def. JSON numbers decode as float64.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// String returns the string at key, or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Rune returns the first rune of the string at key, or def. Used for the
// CSV comma option.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	return []rune(s)[0]
}

// StringMap returns the string-to-string map at key, or an empty map.
// Non-string values are skipped.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	raw, ok := o[key]
	if !ok {
		return out
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
