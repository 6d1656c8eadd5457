package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/entmap/internal/ir"
)

// marshalAttributes converts attributes to canonical JSON TEXT for storage.
func marshalAttributes(attrs ir.IRObject) (string, error) {
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes parses canonical JSON TEXT to IRObject.
// Fractional numbers decode to IRDecimal with their stored text.
func unmarshalAttributes(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return obj, nil
}

// unmarshalKey parses the canonical key text written by NaturalKey.String.
func unmarshalKey(data string) (ir.NaturalKey, error) {
	var parts []string
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return nil, fmt.Errorf("unmarshal natural key %q: %w", data, err)
	}
	return ir.NaturalKey(parts), nil
}
