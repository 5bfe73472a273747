// Package middleware adapts trustcore.Engine to net/http.
//
// [Guard] authenticates the Authorization header and stores the
// [trustcore.Principal] in the request context; [RequireRole] then checks the
// principal's effective role, so an active elevation grant passes an admin
// route until it expires.
//
// [ClientLimiter] is a per-IP token bucket for credential endpoints. It sits
// in front of the Engine's own lockout and never replaces it.
//
// Token and store checks all happen inside the Engine.
package middleware
