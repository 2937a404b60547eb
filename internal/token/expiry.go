package token

import "time"

// Default buffer windows. RequestBuffer answers "is this token usable right
// now" on the request path. RefreshBuffer is wider and drives the background
// refresher, so proactive refresh fires before a request-time check would
// ever trip; the gap keeps the two paths from racing for the same
// near-expired token.
const (
	RequestBuffer = 5 * time.Minute
	RefreshBuffer = 10 * time.Minute
)

// Expired reports whether a token expiring at expiresAt counts as expired at
// now under the given buffer: true iff now+buffer >= expiresAt. Monotonic in
// buffer — a larger buffer never reports a later expiry.
func Expired(expiresAt, now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(expiresAt)
}
