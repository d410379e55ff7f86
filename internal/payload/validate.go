// Package payload validates and normalizes the free-form JSON payloads
// attached to events.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

const (
	// MaxSize is the largest accepted serialized payload, in bytes.
	MaxSize = 1 << 20
	// MaxDepth is the deepest accepted nesting level. The top-level mapping's
	// direct values sit at depth 0.
	MaxDepth = 10
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	ReasonNotMapping      Reason = "not a mapping"
	ReasonNotSerializable Reason = "not serializable"
	ReasonTooLarge        Reason = "too large"
	ReasonTooDeep         Reason = "too deep"
)

// ErrInvalid matches every *InvalidError via errors.Is.
var ErrInvalid = errors.New("payload invalid")

// InvalidError is returned by Validate. Retrying never changes the outcome.
type InvalidError struct {
	Reason Reason
	Detail string
}

func (e *InvalidError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(r Reason, format string, args ...any) *InvalidError {
	return &InvalidError{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// Validate checks shape, size and depth of a decoded payload and returns it
// as a mapping. A nil payload is an empty mapping.
func Validate(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalid(ReasonNotMapping, "got %T", v)
	}
	if m == nil {
		return map[string]any{}, nil
	}

	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, invalid(ReasonNotSerializable, "%v", err)
	}

	if len(encoded) > MaxSize {
		return nil, invalid(ReasonTooLarge, "%d bytes exceeds %d", len(encoded), MaxSize)
	}

	for _, child := range m {
		if err := checkDepth(reflect.ValueOf(child), 0); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func checkDepth(v reflect.Value, depth int) error {
	if depth > MaxDepth {
		return invalid(ReasonTooDeep, "exceeds max nesting depth (%d)", MaxDepth)
	}

	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkDepth(iter.Value(), depth+1); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			// []byte marshals as a base64 string.
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkDepth(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
