// Package session is the refresh-token session registry.
//
// A session records the SHA-256 digest of a refresh token, never the token
// itself. A session is valid iff it is not revoked and now < ExpiresAt, and
// that check is made on every lookup, so validity never depends on the
// expired-session sweep having run.
//
// Refresh does not rotate the refresh token: the same token stays usable
// until it expires or its session is revoked.
package session
