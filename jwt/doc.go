// Package jwt issues and verifies the signed bearer tokens of the
// authentication core: access, refresh and mfa-pending. Verification is pure
// (signature plus clock comparison) and never consults storage.
package jwt
