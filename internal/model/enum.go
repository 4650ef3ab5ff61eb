package model

import (
	"encoding/json"
	"fmt"
)

// Status enums are closed sets. Unknown strings coming from the gateway or
// from request bodies are rejected instead of being carried around as-is.

func parseEnum[T ~string](kind string, valid map[T]bool, raw string) (T, error) {
	v := T(raw)
	if !valid[v] {
		return "", fmt.Errorf("unknown %s %q", kind, raw)
	}
	return v, nil
}

func scanEnum[T ~string](kind string, valid map[T]bool, dst *T, src interface{}) error {
	var raw string
	switch s := src.(type) {
	case string:
		raw = s
	case []byte:
		raw = string(s)
	case nil:
		return fmt.Errorf("%s cannot be null", kind)
	default:
		return fmt.Errorf("unsupported %s type %T", kind, src)
	}
	v, err := parseEnum(kind, valid, raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalEnum[T ~string](kind string, valid map[T]bool, dst *T, data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s must be a string: %w", kind, err)
	}
	v, err := parseEnum(kind, valid, raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
