package jwt

import "strings"

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value. A missing or malformed header yields ok=false rather than an
// error so callers can tell "absent" from "invalid".
func ExtractBearer(header string) (token string, ok bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(rest)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
