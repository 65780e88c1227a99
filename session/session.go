package session

import "context"

// Session is a request-scoped key/value bag with a rotatable identifier.
// Implementations are not safe for concurrent use; one Session belongs to one
// request.
type Session interface {
	// ID returns the current session identifier. After Renew it returns the
	// new identifier even before Save commits.
	ID() string
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	// Renew rotates the session identifier while keeping the values. The old
	// identifier becomes unusable when Save commits.
	Renew() error
	// Save persists pending mutations. Backends with no external state may
	// treat it as a cheap re-encode.
	Save(ctx context.Context) error
}
