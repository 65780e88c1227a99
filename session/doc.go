// Package session provides the session handle consumed by the authgate engine
// and three interchangeable backends: in-process memory, Redis, and a
// stateless signed-token codec.
//
// # Contract
//
// A [Session] is a request-scoped string key/value bag with a rotatable
// identifier. The engine rotates the identifier on every privilege-boundary
// crossing (login, logout, OAuth login, post-verification auto-login) to
// defeat fixation; backends must make the old identifier unusable once
// [Session.Save] commits a rotation.
//
// # Architecture boundaries
//
// This package owns session persistence only. It does NOT decide who is
// authenticated, read cookies, or touch the user store — those
// responsibilities belong to the engine and the caller's transport layer.
//
// # What this package must NOT do
//
//   - Import authgate or store (no upward imports).
//   - Store plaintext credentials in session values.
package session
