package stdx

// Zero returns the zero value for a given type T.
// Iterators and waiters return it alongside an error when no value exists.
func Zero[T any]() T {
	var zero T
	return zero
}
