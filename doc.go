// Package trustcore is a zero-trust authentication core: credential checks
// with account lockout, access/refresh/MFA-pending bearer tokens, a session
// registry backing refresh-token revocation, TOTP enrollment and login,
// risk scoring over the audit trail, and just-in-time role elevation.
//
// The public surface is [Engine], assembled by [Builder]. Engine methods are
// safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// Engine sequences the leaf packages (jwt, session, totp, lockout, risk,
// password, audit) and owns the login and MFA state machine. Persistence is
// reached only through the store interfaces; memory, postgres and
// redisstore implement them.
//
// # Failure model
//
// Expected conditions return errors that match one class with errors.Is
// (ErrCredentialsInvalid, ErrAccountLocked, ErrTokenInvalid, ...). Use
// [PublicMessage] for anything shown to a client. Audit delivery failures
// are logged and never change an operation's result. Store and signing
// failures wrap ErrInternal and never produce a success-shaped result.
//
// # Concurrency
//
// The failed-attempt counter and every other identity field are written
// with a version-checked update that is retried from a fresh read, so
// concurrent failures are never lost. Token verification never touches the
// store; refresh always reads the session record.
package trustcore
