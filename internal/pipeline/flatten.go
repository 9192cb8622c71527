package pipeline

import "driftline/internal/types"

// Flatten produces a flat map of leaves keyed by underscore-joined paths
// ("metadata_sensor_version") from a (possibly nested) record, plus a separate map of every top-level dict-valued
// field retained verbatim for the document backend. Arrays are never
// recursed into — each array is a single leaf at its own path.
func Flatten(record types.Dict) (flat map[string]types.Value, nestedTop map[string]types.Value) {
	flat = make(map[string]types.Value)
	nestedTop = make(map[string]types.Value)

	flattenInto(record, "", flat)
	for k, v := range record {
		if _, ok := v.(types.Dict); ok {
			nestedTop[k] = v
		}
	}
	return flat, nestedTop
}

func flattenInto(d types.Dict, prefix string, out map[string]types.Value) {
	for k, v := range d {
		newKey := k
		if prefix != "" {
			newKey = prefix + "_" + k
		}
		if sub, ok := v.(types.Dict); ok {
			flattenInto(sub, newKey, out)
			continue
		}
		out[newKey] = v
	}
}
