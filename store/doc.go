// Package store provides the persistence boundary for the authgate engine:
// schema introspection over the user table, and read/write operations for
// users, remember tokens, OAuth links, and password reset records.
//
// # Schema introspection
//
// The user table is not owned by authgate; its column layout is discovered once
// per engine via [DetectSchema], which probes the physical columns and resolves
// each logical field (email, password hash, last login, verification state)
// against ordered candidate lists. Detection failure is fatal: authenticating
// against a guessed column is a security defect, not a usability one.
//
// # Auxiliary tables
//
// remember_tokens, oauth_accounts, and password_resets are owned by authgate
// and created by [SQL.EnsureAuxiliaryTables]. Token columns only ever hold
// sha256 digests; raw bearer tokens are never persisted.
//
// # What this package must NOT do
//
//   - Import authgate (no upward imports).
//   - Hash passwords or tokens — callers pass digests in.
//   - Make authentication policy decisions.
package store
