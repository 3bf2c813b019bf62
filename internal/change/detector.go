// Package change decides whether a watched attribute materially changed
// between two snapshots of an entity.
package change

// HasChanged compares the previous and new value of a watched attribute.
// A nil previous means the entity is new: it counts as changed only when
// next is non-empty. HasChanged never dispatches work; callers compose it
// with a dispatcher.
func HasChanged[T comparable](previous *T, next T) bool {
	if previous == nil {
		return !IsEmpty(next)
	}
	return *previous != next
}

// IsEmpty reports whether v is the zero value ("no asset").
func IsEmpty[T comparable](v T) bool {
	var zero T
	return v == zero
}
