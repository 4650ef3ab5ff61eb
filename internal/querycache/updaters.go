package querycache

// Updaters used with Optimistic. Each returns a new slice and never writes to
// the one it was given, so pre-images stay intact.

func Prepend[T any](item T) func([]T) []T {
	return func(cur []T) []T {
		out := make([]T, 0, len(cur)+1)
		out = append(out, item)
		return append(out, cur...)
	}
}

func UpdateWhere[T any](match func(T) bool, patch func(T) T) func([]T) []T {
	return func(cur []T) []T {
		out := make([]T, len(cur))
		for i, v := range cur {
			if match(v) {
				v = patch(v)
			}
			out[i] = v
		}
		return out
	}
}

func RemoveWhere[T any](match func(T) bool) func([]T) []T {
	return func(cur []T) []T {
		out := make([]T, 0, len(cur))
		for _, v := range cur {
			if !match(v) {
				out = append(out, v)
			}
		}
		return out
	}
}

// Replace swaps a single cached value.
func Replace[T any](v T) func(T) T {
	return func(T) T { return v }
}
