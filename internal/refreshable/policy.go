package refreshable

import "time"

// ExpiryOf extracts the recorded expiry of a cached value. A nil result
// means the value never expires.
type ExpiryOf[T any] func(*T) *time.Time

// BlockingExpiryPredicate builds a predicate that fires when the value is
// absent, or when less than window remains before its recorded expiry. An
// absent value always fires: the first fetch must hold the caller.
func BlockingExpiryPredicate[T any](window time.Duration, expiry ExpiryOf[T]) Predicate[T] {
	return func(v *T) bool {
		if v == nil {
			return true
		}
		exp := expiry(v)
		if exp == nil {
			return false
		}
		return time.Until(*exp) < window
	}
}

// AsyncExpiryPredicate builds a predicate that fires when less than window
// remains before the value's recorded expiry. An absent value never fires
// here; the blocking path owns the first fetch. The window should be
// comfortably larger than the blocking one so credentials are replaced
// before anyone has to wait for them.
func AsyncExpiryPredicate[T any](window time.Duration, expiry ExpiryOf[T]) Predicate[T] {
	return func(v *T) bool {
		if v == nil {
			return false
		}
		exp := expiry(v)
		if exp == nil {
			return false
		}
		return time.Until(*exp) < window
	}
}
