package maps

import "sort"

func Keys[M ~map[K]V, K comparable, V any](m M) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	return keys
}

// SortedKeys returns the keys of m ordered by less.
func SortedKeys[M ~map[K]V, K comparable, V any](m M, less func(a, b K) bool) []K {
	keys := Keys(m)
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}
