// Package session provides Redis-backed session persistence and the delimited
// string encoding used for per-subject admission state.
//
// # Encoding
//
// A session is stored as a single string "{signature}-{concurrent}-{active}".
// The signature is a signed credential and may itself contain the delimiter,
// so decoding is right-anchored: the last two segments are fixed, everything
// before them is the signature. [Decode] never fails: unparseable input
// degrades to a record that no credential can match.
//
// # Atomicity
//
// Slot reservation and release are read-modify-write cycles on the same key.
// Both run as single Lua scripts ([Store.Reserve], [Store.Release]) so that
// concurrent requests for one subject cannot lose an increment or decrement.
// The scripts re-parse the stored value with the same right-anchored rule
// and preserve the key's remaining TTL on rewrite.
//
// # Architecture boundaries
//
// This package owns Redis I/O and the storage format. It does NOT verify
// credentials, consult the account directory, or decide admission policy.
// Those responsibilities belong to the Engine.
package session
