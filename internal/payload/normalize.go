package payload

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Keys lifted out of the original payload.
const (
	KeyOriginal     = "original"
	KeyNormalizedAt = "normalized_at"
	KeyPage         = "page"
	KeyReferrer     = "referrer"
	KeyDuration     = "duration"
	KeyScrollDepth  = "scroll_depth"
)

var (
	stringKeys = []string{KeyPage, KeyReferrer}
	floatKeys  = []string{KeyDuration, KeyScrollDepth}
)

// Normalize wraps a validated payload with processing metadata and lifts the
// well-known keys to the top level. Each lifted key is coerced independently;
// float coercion failures fall back to 0.
func Normalize(v map[string]any, now time.Time) map[string]any {
	out := map[string]any{
		KeyOriginal:     v,
		KeyNormalizedAt: now.UTC().Format(time.RFC3339Nano),
	}

	for _, k := range stringKeys {
		if raw, ok := v[k]; ok {
			out[k] = strings.TrimSpace(coerceString(raw))
		}
	}
	for _, k := range floatKeys {
		if raw, ok := v[k]; ok {
			f, ok := coerceFloat(raw)
			if !ok {
				f = 0
			}
			out[k] = f
		}
	}

	return out
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func coerceFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	// NaN and Inf cannot be stored as JSON.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
