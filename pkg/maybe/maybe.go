// Package maybe provides an optional value for results that can be
// legitimately absent, such as an average over a window with no readings.
package maybe

// Maybe holds a value of type T together with whether it is present. The
// zero value is absent.
type Maybe[T any] struct {
	value T
	valid bool
}

// Some returns a present value
func Some[T any](value T) Maybe[T] {
	return Maybe[T]{value: value, valid: true}
}

// None returns an absent value
func None[T any]() Maybe[T] {
	return Maybe[T]{}
}

// SqlNull converts a scanned nullable column into a Maybe, for example the
// Float64 and Valid fields of a sql.NullFloat64.
func SqlNull[T any](value T, valid bool) Maybe[T] {
	if !valid {
		return None[T]()
	}
	return Some(value)
}

// IsValid reports whether a value is present
func (m Maybe[T]) IsValid() bool {
	return m.valid
}

// Value returns the held value, or the zero value of T when absent. Check
// IsValid first when zero is a meaningful value.
func (m Maybe[T]) Value() T {
	return m.value
}

// ValueOrDefault returns the held value, or fallback when absent
func (m Maybe[T]) ValueOrDefault(fallback T) T {
	if m.valid {
		return m.value
	}
	return fallback
}
