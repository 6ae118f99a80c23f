// Package utils holds small conversion helpers shared by the engine and the
// stores. Metadata crosses the store boundary as map documents; these helpers
// move values between that form and the typed structs used everywhere else.
package utils

import (
	"encoding/json"
	"fmt"
)

// StructToMap converts a struct into a map[string]any by round-tripping
// through JSON, so `json` tags, omitempty and nested types behave exactly as
// they would on the wire.
func StructToMap[T any](record T) (map[string]any, error) {
	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to marshal record: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil, fmt.Errorf("StructToMap: failed to unmarshal into map: %w", err)
	}
	return result, nil
}

// MapToStruct is the inverse of StructToMap: it populates a new T from a
// generic map document.
func MapToStruct[T any](input map[string]any) (T, error) {
	var result T
	if input == nil {
		return result, fmt.Errorf("MapToStruct: input map cannot be nil")
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return result, fmt.Errorf("MapToStruct: failed to marshal input map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return result, fmt.Errorf("MapToStruct: failed to unmarshal into struct: %w", err)
	}
	return result, nil
}

// CloneMap deep-copies a map document via JSON. Used to take restore points
// before destructive metadata operations.
func CloneMap(input map[string]any) (map[string]any, error) {
	if input == nil {
		return nil, nil
	}
	return MapToStruct[map[string]any](input)
}

// Ptr returns a pointer to v. Convenient for optional struct fields.
func Ptr[T any](v T) *T { return &v }
