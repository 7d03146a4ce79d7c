package value

// Merge overlays over on top of base and returns the result.
//
// Scalars, Null and Sequences in over replace whatever is in base. Mappings
// merge key by key, recursing on collisions, unless over carries the replace
// flag, in which case over replaces base wholesale. A consumed replace flag
// stays on the result so the mapping keeps replacing anything it is later
// merged over; Settle strips flags from final output.
func Merge(base, over Value) Value {
	if over.kind != Mapping || base.kind != Mapping || over.replace {
		return over
	}

	out := Value{
		kind:    Mapping,
		mapping: make(map[string]Value, len(base.mapping)+len(over.mapping)),
		replace: base.replace,
	}
	for k, v := range base.mapping {
		out.mapping[k] = v
	}
	for k, v := range over.mapping {
		if b, ok := out.mapping[k]; ok {
			out.mapping[k] = Merge(b, v)
			continue
		}
		out.mapping[k] = v
	}
	return out
}

// MergeAll folds values left to right: later entries have higher precedence.
func MergeAll(values ...Value) Value {
	var acc Value
	for i, v := range values {
		if i == 0 {
			acc = v
			continue
		}
		acc = Merge(acc, v)
	}
	return acc
}
