// Package api assembles the gateway's HTTP surface: credential issuance,
// the guarded upstream relays, the restricted string-lookup endpoint, and
// the operational routes. All responses that this package originates use
// the {code, data, msg} envelope; relayed upstream responses pass through
// untouched.
package api
