package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMeta_UnionWithLaterKeysWinning(t *testing.T) {
	base := map[string]interface{}{
		"started_at": "2026-01-01T00:00:00Z",
		"last_error": "old error",
		"nested":     map[string]interface{}{"a": 1.0, "b": 2.0},
	}
	patch := map[string]interface{}{
		"last_error": "new error",
		"new_key":    true,
		"nested":     map[string]interface{}{"b": 3.0},
	}

	merged, err := MergeMeta(base, patch)
	require.NoError(t, err)

	assert.Equal(t, "2026-01-01T00:00:00Z", merged["started_at"], "untouched keys survive")
	assert.Equal(t, "new error", merged["last_error"], "patch wins on conflict")
	assert.Equal(t, true, merged["new_key"])

	nested := merged["nested"].(map[string]interface{})
	assert.Equal(t, 1.0, nested["a"], "nested maps merge, not replace")
	assert.Equal(t, 3.0, nested["b"])
}

func TestMergeMeta_NullDeletesKey(t *testing.T) {
	base := map[string]interface{}{"stale": "value", "keep": "me"}
	merged, err := MergeMeta(base, map[string]interface{}{"stale": nil})
	require.NoError(t, err)

	_, exists := merged["stale"]
	assert.False(t, exists)
	assert.Equal(t, "me", merged["keep"])
}

func TestMergeMeta_DoesNotMutateInputs(t *testing.T) {
	base := map[string]interface{}{"k": "original"}
	patch := map[string]interface{}{"k": "patched"}

	merged, err := MergeMeta(base, patch)
	require.NoError(t, err)
	assert.Equal(t, "patched", merged["k"])
	assert.Equal(t, "original", base["k"])
}

func TestMergeMeta_EmptyPatchCopiesBase(t *testing.T) {
	base := map[string]interface{}{"k": "v"}
	merged, err := MergeMeta(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, merged)

	merged["k"] = "changed"
	assert.Equal(t, "v", base["k"], "copy, not alias")
}
