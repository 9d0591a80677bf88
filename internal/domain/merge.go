package domain

import (
	"dario.cat/mergo"
)

// MergeVariables composes variable layers into one context. Layers are
// given lowest precedence first; later layers override earlier ones.
// The engine uses this to stack declared defaults, run-time inputs,
// node outputs and the current loop binding.
func MergeVariables(layers ...map[string]Value) (map[string]Value, error) {
	merged := make(map[string]Value)
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		if err := mergo.Merge(&merged, layer, mergo.WithOverride); err != nil {
			return nil, NewValueError("merge variable layers: " + err.Error())
		}
	}
	return merged, nil
}
