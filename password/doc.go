// Package password hashes and verifies secrets and enforces the password
// strength policy.
//
// Argon2id is the default encoding (PHC string format). Bcrypt is supported
// with an adjustable cost, and [Multi] verifies either encoding while hashing
// new secrets with a single preferred [Hasher], so stored hashes can migrate
// on the next successful login.
package password
