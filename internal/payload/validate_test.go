package payload

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nested builds a payload whose innermost leaf sits at depth levels-1.
func nested(levels int) map[string]any {
	inner := map[string]any{"leaf": 1.0}
	for i := 1; i < levels; i++ {
		inner = map[string]any{"n": inner}
	}
	return inner
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var ie *InvalidError
	require.True(t, errors.As(err, &ie), "expected *InvalidError, got %T (%v)", err, err)
	return ie.Reason
}

func TestValidate_NilIsEmptyMapping(t *testing.T) {
	got, err := Validate(nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestValidate_NilTypedMapIsEmptyMapping(t *testing.T) {
	var m map[string]any
	got, err := Validate(m)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestValidate_RejectsNonMapping(t *testing.T) {
	for _, v := range []any{"text", 42.0, true, []any{1.0, 2.0}} {
		_, err := Validate(v)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
		assert.Equal(t, ReasonNotMapping, reasonOf(t, err))
	}
}

func TestValidate_RejectsUnserializable(t *testing.T) {
	cases := map[string]map[string]any{
		"channel": {"c": make(chan int)},
		"func":    {"f": func() {}},
		"nan":     {"x": math.NaN()},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(p)
			require.Error(t, err)
			assert.Equal(t, ReasonNotSerializable, reasonOf(t, err))
		})
	}
}

func TestValidate_RejectsCycle(t *testing.T) {
	p := map[string]any{}
	p["self"] = p

	_, err := Validate(p)
	require.Error(t, err)
	assert.Equal(t, ReasonNotSerializable, reasonOf(t, err))
}

func TestValidate_SizeLimit(t *testing.T) {
	// {"blob":"..."} adds 11 bytes of framing.
	atLimit := map[string]any{"blob": strings.Repeat("a", MaxSize-11)}
	_, err := Validate(atLimit)
	require.NoError(t, err)

	over := map[string]any{"blob": strings.Repeat("a", MaxSize)}
	_, err = Validate(over)
	require.Error(t, err)
	assert.Equal(t, ReasonTooLarge, reasonOf(t, err))
}

func TestValidate_DepthLimit(t *testing.T) {
	_, err := Validate(nested(MaxDepth + 1))
	require.NoError(t, err, "leaf at depth %d should pass", MaxDepth)

	_, err = Validate(nested(MaxDepth + 2))
	require.Error(t, err)
	assert.Equal(t, ReasonTooDeep, reasonOf(t, err))
	assert.Contains(t, err.Error(), "too deep")
}

func TestValidate_DepthCountsSequences(t *testing.T) {
	var v any = 1.0
	for i := 0; i < MaxDepth+1; i++ {
		v = []any{v}
	}

	_, err := Validate(map[string]any{"list": v})
	require.Error(t, err)
	assert.Equal(t, ReasonTooDeep, reasonOf(t, err))
}

func TestValidate_ReturnsSameMapping(t *testing.T) {
	p := map[string]any{
		"page":  "/home",
		"tags":  []any{"a", "b"},
		"inner": map[string]any{"x": 1.0},
	}

	got, err := Validate(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
