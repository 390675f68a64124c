package stdx

// Must0 panics if the provided error is not nil.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v, or panics when err is not nil.
//
// It keeps setup code that cannot reasonably fail short:
//
//	ch := stdx.Must1(broker.Channel(ctx, broadcast.Name("greet")))
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
