package flowsession

// MergeMaps recursively combines a partial key-value map into an existing
// one and returns the merged result. For every key in partial, when both
// sides hold a map the merge recurses; otherwise the partial value
// overwrites the existing one. Unrelated nested keys are preserved, and
// applying the same partial twice yields the same result as applying it
// once.
//
// The inputs are not mutated; the returned map is freshly allocated at
// every level the merge touches.
func MergeMaps(existing, partial map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(partial))
	for k, v := range existing {
		merged[k] = v
	}

	for k, v := range partial {
		existingChild, haveExisting := merged[k].(map[string]any)
		partialChild, havePartial := v.(map[string]any)
		if haveExisting && havePartial {
			merged[k] = MergeMaps(existingChild, partialChild)
			continue
		}
		merged[k] = v
	}
	return merged
}
