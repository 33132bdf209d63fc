package session

// Record is the per-subject session state held in Redis. One record exists
// per subject; issuing a new credential overwrites it wholesale.
type Record struct {
	// Signature is the signed credential currently live for the subject.
	// It may contain the field delimiter, which is why decoding is
	// right-anchored (see Decode).
	Signature string

	// Concurrent is the number of admitted requests currently in flight.
	Concurrent int

	// Active mirrors the subscriber's active flag at issuance time.
	Active bool
}
