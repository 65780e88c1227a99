// Package oauth implements the federation side of authgate: provider
// registration, authorization URL construction, code exchange and profile
// normalization for Google, Facebook, GitHub and Discord.
//
// # Architecture boundaries
//
// This package talks to provider HTTP APIs and nothing else. It does not read
// or write user records, does not manage sessions and does not mint state
// tokens; the engine owns all of that. The only thing a provider returns is a
// normalized Profile.
//
// # What this package must NOT do
//
//   - Persist anything.
//   - Trust provider responses beyond the fields it normalizes.
//   - Skip TLS verification, ever.
package oauth
