package game

// Action payloads arrive as generic JSON maps; numbers decode as
// float64. These helpers give variants typed access without a schema.

// IntField reads a JSON number as an int.
func IntField(data map[string]any, key string) (int, bool) {
	switch n := data[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// FloatField reads a JSON number as a float64.
func FloatField(data map[string]any, key string) (float64, bool) {
	switch n := data[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// StringField reads a JSON string.
func StringField(data map[string]any, key string) (string, bool) {
	s, ok := data[key].(string)
	return s, ok
}

// BoolField reads a JSON bool.
func BoolField(data map[string]any, key string) (bool, bool) {
	b, ok := data[key].(bool)
	return b, ok
}
