package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	dserrors "github.com/systmms/secretops/internal/errors"
)

// extractKey pulls key out of a JSON document. key is either a top-level
// field name or a dotted path starting with '.' ("a" or ".a.b").
func extractKey(doc []byte, key string, target string) ([]byte, error) {
	var data interface{}
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, dserrors.ValidationError{Field: "path", Value: target, Message: "secret is not a JSON object, cannot select a key"}
	}

	var parts []string
	if strings.HasPrefix(key, ".") {
		parts = strings.Split(strings.TrimPrefix(key, "."), ".")
	} else {
		parts = []string{key}
	}

	current := data
	for _, part := range parts {
		if part == "" {
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, dserrors.ValidationError{Field: "path", Value: target, Message: fmt.Sprintf("cannot navigate into non-object at %q", part)}
		}
		val, exists := obj[part]
		if !exists {
			return nil, dserrors.NotFoundError{Resource: "secret key", ID: target}
		}
		current = val
	}

	switch v := current.(type) {
	case string:
		return []byte(v), nil
	case nil:
		return []byte{}, nil
	case float64:
		return []byte(strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")), nil
	case bool:
		return []byte(fmt.Sprintf("%t", v)), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", target, err)
		}
		return b, nil
	}
}

// selectKey returns value as-is when key is empty, else extracts key from it.
func selectKey(value []byte, key, target string) ([]byte, error) {
	if key == "" {
		return value, nil
	}
	return extractKey(value, key, target)
}
