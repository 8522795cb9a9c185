package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeKey maps a key to its canonical string form. Strings are
// lowercased; anything else is encoded as JSON with sorted object keys, so
// structurally equal keys collide regardless of field or map order.
func NormalizeKey(key any) (string, error) {
	if s, ok := key.(string); ok {
		return strings.ToLower(s), nil
	}

	raw, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("cache key is not serializable: %w", err)
	}

	// Round-trip through a generic value so that struct fields are sorted
	// like map keys. UseNumber keeps integers exact.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("cache key is not serializable: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("cache key is not serializable: %w", err)
	}
	return string(canonical), nil
}
