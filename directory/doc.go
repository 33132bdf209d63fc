// Package directory is the gateway's client for the subscriber account
// directory: a relational store queried by subscriber identifier (tel) for
// entitlement data: active flag, account creation time, expiry policy, and
// the concurrency ceiling.
//
// An absent or inactive subscriber is an expected outcome, not a fault.
//
// [ActiveCache] layers a fixed-TTL Redis cache over the active flag for the
// admission hot path. It is purely a performance layer: on cache failure it
// falls back to a direct directory query, and if that also fails the safe
// default is to report the subscriber inactive.
package directory
