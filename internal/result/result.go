// Package result provides a success-or-failure wrapper for boundaries that
// must never propagate errors past themselves.
package result

// Result carries either a success payload or a failure message, never both.
type Result[T any] struct {
	data    T
	message string
	ok      bool
}

// Resolve wraps a success payload.
func Resolve[T any](data T) Result[T] {
	return Result[T]{data: data, ok: true}
}

// Reject wraps a failure message.
func Reject[T any](message string) Result[T] {
	return Result[T]{message: message}
}

// OK reports whether the result holds a success payload.
func (r Result[T]) OK() bool {
	return r.ok
}

// Data returns the success payload. Callers must check OK first; on a failed
// result the zero value is returned.
func (r Result[T]) Data() T {
	return r.data
}

// Message returns the failure message, empty on success.
func (r Result[T]) Message() string {
	return r.message
}
