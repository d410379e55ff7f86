package payload

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestValidateRoundTrip checks that flat well-formed payloads pass unchanged.
// Property: Validate(P) == P for any small mapping P
func TestValidateRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("validate returns the input mapping", prop.ForAll(
		func(keys []string, values []string) bool {
			p := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				p[keys[i]] = values[i]
			}

			got, err := Validate(p)
			if err != nil {
				return false
			}
			if len(got) != len(p) {
				return false
			}
			for k, v := range p {
				if got[k] != v {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestValidateDepthBoundary checks the nesting limit on both sides.
// Property: Validate(nested(n)) fails iff the leaf depth exceeds MaxDepth
func TestValidateDepthBoundary(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("depth limit is exact", prop.ForAll(
		func(levels int) bool {
			_, err := Validate(nested(levels))
			if levels-1 > MaxDepth {
				ie, ok := err.(*InvalidError)
				return ok && ie.Reason == ReasonTooDeep
			}
			return err == nil
		},
		gen.IntRange(1, 2*MaxDepth),
	))

	properties.TestingRun(t)
}

// TestNormalizeKeepsOriginal checks that normalization never alters the payload.
// Property: Normalize(V)["original"] == V
func TestNormalizeKeepsOriginal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("original is preserved", prop.ForAll(
		func(page string, duration string, extra string) bool {
			v := map[string]any{"page": page, "duration": duration, "extra": extra}

			out := Normalize(v, fixedNow)
			orig, ok := out[KeyOriginal].(map[string]any)
			if !ok || len(orig) != 3 {
				return false
			}
			_, lifted := out["extra"]
			return orig["page"] == page && orig["duration"] == duration && orig["extra"] == extra && !lifted
		},
		gen.AnyString(),
		gen.NumString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
