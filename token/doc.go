// Package token mints and verifies the bearer credentials accepted by the
// gateway. A credential is an HS256-signed JWT carrying the subscriber
// identifier, an absolute expiry derived from the account's duration policy,
// and the subscriber's concurrency ceiling.
//
// Credentials are immutable once issued. Revocation is not handled here:
// the session store holds at most one live credential per subject, and
// admission compares the presented credential against it byte for byte.
package token
