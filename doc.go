// Package authgate provides a session-based authentication engine over an
// existing user table: credential login, remember-me tokens, OAuth2
// federation, email verification, and throttled password resets.
//
// The engine never dictates the user table's shape. At startup it introspects
// the table, maps well-known column roles (email, password, primary key,
// verification columns) and refuses to start when the required ones are
// missing. Everything the engine stores itself lives in auxiliary tables it
// creates and owns.
//
// A long-lived [Engine] is built once through [Builder.Build]; each request
// then gets a short-lived [Auth] handle via [Engine.NewAuth], bound to that
// request's session and cookies.
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Engine], [Builder], [Auth],
// [Config] and value types. Schema mapping and persistence live in store/,
// hashing in password/, session contracts in session/, provider plumbing in
// oauth/, and token generation under internal/.
//
// # What this package must NOT do
//
//   - Persist a plaintext secret anywhere. Remember, verification, and reset
//     tokens are stored only as SHA-256 digests.
//   - Reveal whether an email address has an account. Login failures and
//     reset requests answer identically for known and unknown addresses.
//   - Write to user table columns outside the detected schema mapping.
package authgate
