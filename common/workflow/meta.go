package workflow

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// MergeMeta merges patch into base as an RFC 7386 merge-patch: a
// non-destructive union where later keys win on conflict and nested maps
// merge recursively. Neither input is mutated.
func MergeMeta(base, patch map[string]interface{}) (map[string]interface{}, error) {
	if len(patch) == 0 {
		return copyMeta(base), nil
	}
	if base == nil {
		base = map[string]interface{}{}
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal meta base: %w", err)
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal meta patch: %w", err)
	}

	mergedJSON, err := jsonpatch.MergePatch(baseJSON, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("merge meta: %w", err)
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal merged meta: %w", err)
	}
	return merged, nil
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
