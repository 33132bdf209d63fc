package frond

import "errors"

var (
	// ErrSubscriberNotFound is returned by Issue for an unknown or
	// inactive subscriber. Both cases look identical to the caller.
	ErrSubscriberNotFound = errors.New("unknown or inactive subscriber")
	// ErrInvalidDurationPolicy is returned when a subscriber's expiry
	// policy string cannot be parsed.
	ErrInvalidDurationPolicy = errors.New("invalid duration policy")
	// ErrAccountExpired is returned by Issue when the account's computed
	// expiry is already in the past.
	ErrAccountExpired = errors.New("account expired")

	// ErrCredentialInvalid is returned by Admit for a missing, malformed,
	// or wrongly signed credential.
	ErrCredentialInvalid = errors.New("invalid credential")
	// ErrCredentialExpired is returned by Admit for a well-formed
	// credential whose expiry has passed.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrCredentialSuperseded is returned by Admit when the subject has no
	// live session or the session belongs to a newer credential.
	ErrCredentialSuperseded = errors.New("credential superseded or revoked")
	// ErrAccountInactive is returned by Admit when the account was
	// deactivated after issuance.
	ErrAccountInactive = errors.New("account inactive")
	// ErrConcurrencyExceeded is returned by Admit when the subject already
	// has maxConcurrent requests in flight.
	ErrConcurrencyExceeded = errors.New("concurrency ceiling reached")

	// ErrStoreUnavailable wraps session store transport failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrDirectoryUnavailable wraps account directory transport failures.
	ErrDirectoryUnavailable = errors.New("account directory unavailable")
)
