// Package internal holds token entropy and hashing primitives shared by the
// authgate engine. Nothing here is part of the public API.
package internal
