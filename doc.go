// Package frond implements the core of an authentication-and-admission
// gateway: credential issuance, concurrency-limited admission, and slot
// release, backed by a shared Redis session store and a subscriber account
// directory.
//
// # Architecture boundaries
//
// frond is the policy layer. [Engine] decides who gets a credential and
// whether a request is admitted; all I/O mechanics live in the leaf
// packages (session, token, directory). HTTP concerns (header extraction,
// status mapping, the release hook's lifecycle) live in middleware and
// api, which translate between HTTP and Engine calls.
//
// # Admission protocol
//
// Every authenticated request passes the gate sequence
// credential-verified → session-matched → not-expired → active →
// slot-reserved. Reservation is a single atomic store operation, so the
// per-subject ceiling holds under concurrent requests. The middleware
// guarantees exactly one release per admitted request, whichever way the
// response ends.
package frond
