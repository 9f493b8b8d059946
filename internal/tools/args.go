package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

func stringArg(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArguments, key)
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidArguments, key)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidArguments, key)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidArguments, key)
	}
	return int(f), nil
}

func boolArg(args map[string]any, key string) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidArguments, key)
	}
	return b, nil
}
