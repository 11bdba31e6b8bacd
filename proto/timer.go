package proto

// DeadlineExpired reports whether a scalar deadline (now + window, stored
// as a wrapping uint32 millisecond timestamp) has passed, per spec.md §5:
// expiry is (now - deadline) >= 0 under 32-bit modular arithmetic.
func DeadlineExpired(nowMS, deadlineMS uint32) bool {
	return int32(nowMS-deadlineMS) >= 0
}
