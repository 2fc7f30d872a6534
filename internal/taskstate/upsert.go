package taskstate

// Upsert returns a copy of list with item replacing the element of the same
// key, or appended when no element has that key.
func Upsert[T any, K comparable](list []T, item T, key func(T) K) []T {
	k := key(item)
	out := make([]T, len(list), len(list)+1)
	copy(out, list)
	for i := range out {
		if key(out[i]) == k {
			out[i] = item
			return out
		}
	}
	return append(out, item)
}

// Remove returns a copy of list without the elements whose key is k.
func Remove[T any, K comparable](list []T, k K, key func(T) K) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if key(v) != k {
			out = append(out, v)
		}
	}
	return out
}

// Patch returns a copy of list with fn applied to the element whose key is k.
// ok is false, and list is returned as is, when no element matches.
func Patch[T any, K comparable](list []T, k K, key func(T) K, fn func(T) T) (out []T, ok bool) {
	for i := range list {
		if key(list[i]) == k {
			out = make([]T, len(list))
			copy(out, list)
			out[i] = fn(out[i])
			return out, true
		}
	}
	return list, false
}
