package resource

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// Payload values use these Go representations:
//
//	boolean  bool        (arrays: []bool)
//	integer  int         (arrays: []int)
//	float    float64     (arrays: []float64)
//	long     int64       (arrays: []int64)
//	time     time.Time   (arrays: []time.Time)
//	string   string      (arrays: []string)
//
// SetValue accepts any numeric Go type, json.Number, RFC 3339 strings for
// time kinds and []any for arrays, and converts them with coerce.

// numberLike matches json.Number from both goccy/go-json and encoding/json.
type numberLike interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// zeroValue returns the default payload for a freshly created resource of type t.
// Arrays start empty (not nil) and structural types carry no payload.
func zeroValue(t *Type) any {
	if t == nil || t.value == KindNone {
		return nil
	}
	if t.array {
		switch t.value {
		case KindBoolean:
			return []bool{}
		case KindInteger:
			return []int{}
		case KindFloat:
			return []float64{}
		case KindLong:
			return []int64{}
		case KindTime:
			return []time.Time{}
		case KindString:
			return []string{}
		}
	}
	switch t.value {
	case KindBoolean:
		return false
	case KindInteger:
		return 0
	case KindFloat:
		return 0.0
	case KindLong:
		return int64(0)
	case KindTime:
		return time.Time{}
	case KindString:
		return ""
	}
	return nil
}

// coerce converts v into the canonical representation for t.
func coerce(t *Type, v any) (any, error) {
	if t == nil || t.value == KindNone {
		return nil, fmt.Errorf("%w: %s carries no value", ErrTypeMismatch, t)
	}
	if !t.array {
		return coerceScalar(t.value, v)
	}

	items, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an array, got %T", ErrTypeMismatch, t, v)
	}
	switch t.value {
	case KindBoolean:
		return coerceSlice[bool](t.value, items)
	case KindInteger:
		return coerceSlice[int](t.value, items)
	case KindFloat:
		return coerceSlice[float64](t.value, items)
	case KindLong:
		return coerceSlice[int64](t.value, items)
	case KindTime:
		return coerceSlice[time.Time](t.value, items)
	default:
		return coerceSlice[string](t.value, items)
	}
}

func coerceSlice[T any](kind ValueKind, items []any) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, item := range items {
		c, err := coerceScalar(kind, item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, c.(T))
	}
	return out, nil
}

// toSlice flattens the accepted array inputs into []any.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []bool:
		return anySlice(s), true
	case []int:
		return anySlice(s), true
	case []int32:
		return anySlice(s), true
	case []int64:
		return anySlice(s), true
	case []float32:
		return anySlice(s), true
	case []float64:
		return anySlice(s), true
	case []time.Time:
		return anySlice(s), true
	case []string:
		return anySlice(s), true
	}
	return nil, false
}

func anySlice[T any](s []T) []any {
	out := make([]any, len(s))
	for i := range s {
		out[i] = s[i]
	}
	return out
}

func coerceScalar(kind ValueKind, v any) (any, error) {
	switch kind {
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInteger:
		i, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d overflows integer", ErrInvalidValue, i)
		}
		return int(i), nil
	case KindLong:
		return toInt64(v)
	case KindFloat:
		return toFloat64(v)
	case KindTime:
		switch tv := v.(type) {
		case time.Time:
			return tv, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, tv)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return parsed, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, v, kind)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows long", ErrInvalidValue, n)
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows long", ErrInvalidValue, n)
		}
		return int64(n), nil
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	case numberLike:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, n.String())
		}
		return integral(f)
	}
	return 0, fmt.Errorf("%w: cannot use %T as a whole number", ErrTypeMismatch, v)
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v is not a whole number", ErrInvalidValue, f)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case numberLike:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, n.String())
		}
		return f, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot use %T as float", ErrTypeMismatch, v)
	}
	return float64(i), nil
}

// cloneValue copies array payloads so callers cannot alias stored state.
func cloneValue(v any) any {
	switch s := v.(type) {
	case []bool:
		return append([]bool{}, s...)
	case []int:
		return append([]int{}, s...)
	case []float64:
		return append([]float64{}, s...)
	case []int64:
		return append([]int64{}, s...)
	case []time.Time:
		return append([]time.Time{}, s...)
	case []string:
		return append([]string{}, s...)
	}
	return v
}

// EncodeValue serialises a payload for storage.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	return data, nil
}

// DecodeValue parses a stored or wire payload and coerces it to t.
// An empty input yields the type's default value.
func DecodeValue(t *Type, data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 || t == nil || t.value == KindNone {
		return zeroValue(t), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if raw == nil {
		return zeroValue(t), nil
	}
	return coerce(t, raw)
}
