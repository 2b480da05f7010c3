package routine

import (
	"math/rand"
	"strings"

	"github.com/gridhabit/gridhabit/pkg/types"
)

// Variants generates k mutated copies of an automation's parameter set. Each
// mutable field (dotted path into the params map) is perturbed by a uniform
// random offset in ±(value × step_pct). Any bounds entry whose key is a
// substring of the field path clamps the result. Non-numeric and missing
// fields are left untouched.
func Variants(a types.Automation, k int, rng *rand.Rand) []types.RoutineVariant {
	if a.Learning == nil || k <= 0 {
		return nil
	}
	spec := a.Learning.Mutation
	variants := make([]types.RoutineVariant, 0, k)
	for i := 0; i < k; i++ {
		params := deepCopy(a.Params)
		for _, field := range spec.Fields {
			mutateField(params, field, spec, rng)
		}
		variants = append(variants, types.RoutineVariant{Index: i, Params: params})
	}
	return variants
}

func mutateField(params map[string]any, field string, spec types.MutationSpec, rng *rand.Rand) {
	parent, leaf, ok := resolve(params, field)
	if !ok {
		return
	}
	v, ok := asFloat(parent[leaf])
	if !ok {
		return
	}
	v += (rng.Float64()*2 - 1) * v * spec.StepPct
	for key, bounds := range spec.Bounds {
		if strings.Contains(field, key) {
			if v < bounds[0] {
				v = bounds[0]
			}
			if v > bounds[1] {
				v = bounds[1]
			}
		}
	}
	parent[leaf] = v
}

// resolve walks a dotted path and returns the map holding the final segment.
func resolve(params map[string]any, path string) (map[string]any, string, bool) {
	parts := strings.Split(path, ".")
	cur := params
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, "", false
		}
		cur = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := cur[leaf]; !ok {
		return nil, "", false
	}
	return cur, leaf, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}
