// Package password implements password hashing and verification for authgate.
//
// # Supported algorithms
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes use the standard $2a$/$2b$ modular crypt encoding.
//
// A [Policy] verifies against either encoding regardless of the configured
// algorithm, so deployments can migrate between algorithms without forcing
// resets: [Policy.NeedsRehash] returns true whenever the stored digest was
// produced by a different algorithm or with weaker parameters, and the caller
// re-hashes on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length, reuse) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive digests.
//   - Import any other authgate package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
