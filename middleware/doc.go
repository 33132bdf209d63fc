// Package middleware adapts the admission protocol to net/http.
//
// # Guards
//
//   - [Require] runs full admission: verify, cross-check the session,
//     reserve a concurrency slot, and arm the release hook.
//   - [Optional] identifies only: any failure silently degrades to an
//     unauthenticated request, and no slot is ever reserved.
//
// Both guards read the Authorization header case-insensitively and inject
// the resulting [frond.Admission] into the request context.
//
// # Release guarantee
//
// Require frees the reserved slot exactly once per admitted request. Two
// signals are observed: handler return (normal completion) and request
// context cancellation (client disconnect mid-stream). A sync.Once guard
// collapses them into a single release, whichever fires first.
//
// # Architecture boundaries
//
// This package translates HTTP into Engine calls. It does NOT parse
// credentials, talk to Redis, or decide admission policy.
package middleware
