package session

import (
	"strconv"
	"strings"
)

// Delimiter separates the three record fields in the stored string.
// Credential signatures contain this character (JWT segments are joined
// with dots, but base64url payloads may include '-'), so parsing anchors
// on the rightmost occurrences instead of splitting left-to-right.
const Delimiter = "-"

// Encode serializes a [Record] as "{signature}-{concurrent}-{active}".
// A negative concurrent count is clamped to zero.
func Encode(r Record) string {
	n := r.Concurrent
	if n < 0 {
		n = 0
	}
	active := "false"
	if r.Active {
		active = "true"
	}
	return r.Signature + Delimiter + strconv.Itoa(n) + Delimiter + active
}

// Decode parses a stored session value. It never fails: callers must treat
// "can't parse" identically to "not authenticated", so malformed input
// degrades instead of erroring.
//
//   - No delimiter: the whole value is a legacy bare signature,
//     concurrent 0, inactive.
//   - Exactly one delimiter: corrupt, empty signature (matches nothing).
//   - Otherwise the last segment is the active flag ("true" is the only
//     truthy literal), the second-to-last is the count (unparseable or
//     negative counts read as 0), and the remainder is the signature.
func Decode(value string) Record {
	if value == "" {
		return Record{}
	}

	last := strings.LastIndex(value, Delimiter)
	if last < 0 {
		return Record{Signature: value}
	}

	second := strings.LastIndex(value[:last], Delimiter)
	if second < 0 {
		return Record{}
	}

	n, err := strconv.Atoi(value[second+1 : last])
	if err != nil || n < 0 {
		n = 0
	}

	return Record{
		Signature:  value[:second],
		Concurrent: n,
		Active:     value[last+1:] == "true",
	}
}
